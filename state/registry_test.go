package state

import (
	"testing"

	"github.com/agentgrid-dev/agentgrid/rpc"
)

type nopStore struct{ Store }

func TestRegistryResolvesCaseInsensitive(t *testing.T) {
	Register("TestCaseFactory", func(params map[string]any) (Store, error) {
		return nopStore{}, nil
	})

	for _, alias := range []string{"TestCaseFactory", "testcasefactory", "TESTCASEFACTORY"} {
		if _, err := New(alias, nil); err != nil {
			t.Fatalf("alias %q: %v", alias, err)
		}
	}
}

func TestRegistryUnknownAlias(t *testing.T) {
	_, err := New("NoSuchFactory", nil)
	if err == nil {
		t.Fatal("expected an error for an unknown alias")
	}
	if !rpc.IsKind(err, rpc.KindConfiguration) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestAliasesListsRegistrations(t *testing.T) {
	Register("TestListedFactory", func(params map[string]any) (Store, error) {
		return nopStore{}, nil
	})

	found := false
	for _, alias := range Aliases() {
		if alias == "testlistedfactory" {
			found = true
		}
	}
	if !found {
		t.Fatalf("registered alias missing from %v", Aliases())
	}
}

func TestRegistryDeprecatedAliasRewrites(t *testing.T) {
	Register("TestNewFactory", func(params map[string]any) (Store, error) {
		return nopStore{}, nil
	})
	Deprecate("TestOldFactory", "TestNewFactory")

	if _, err := New("TestOldFactory", nil); err != nil {
		t.Fatalf("deprecated alias should resolve to its replacement: %v", err)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	Register("TestDupFactory", func(params map[string]any) (Store, error) {
		return nopStore{}, nil
	})
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on duplicate registration")
		}
	}()
	Register("testdupfactory", func(params map[string]any) (Store, error) {
		return nopStore{}, nil
	})
}

func TestReserved(t *testing.T) {
	if !Reserved("_type") {
		t.Fatal("_type is reserved")
	}
	if Reserved("type") || Reserved("") {
		t.Fatal("plain keys are not reserved")
	}
}
