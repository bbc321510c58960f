package authz

import "testing"

func TestAuthorizeAcceptsCorrectPasswordAndScope(t *testing.T) {
	p := NewProvider()
	if err := p.Register("alice", "hunter2", []Operation{OpAddPool, OpAddLink}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := p.Authorize("alice", "hunter2", OpAddPool); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
}

func TestAuthorizeRejectsWrongPassword(t *testing.T) {
	p := NewProvider()
	p.Register("alice", "hunter2", []Operation{OpAddPool})

	if err := p.Authorize("alice", "wrong", OpAddPool); err != ErrDenied {
		t.Fatalf("Authorize error = %v, want ErrDenied", err)
	}
}

func TestAuthorizeRejectsUnscopedOperation(t *testing.T) {
	p := NewProvider()
	p.Register("alice", "hunter2", []Operation{OpAddPool})

	if err := p.Authorize("alice", "hunter2", OpRemovePool); err != ErrDenied {
		t.Fatalf("Authorize error = %v, want ErrDenied", err)
	}
}

func TestAuthorizeRejectsUnknownPrincipal(t *testing.T) {
	p := NewProvider()
	if err := p.Authorize("nobody", "x", OpAddPool); err != ErrUnknownPrincipal {
		t.Fatalf("Authorize error = %v, want ErrUnknownPrincipal", err)
	}
}

func TestRegisterOverwritesPriorCredential(t *testing.T) {
	p := NewProvider()
	p.Register("alice", "old", []Operation{OpAddPool})
	if err := p.Register("alice", "new", []Operation{OpRemovePool}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := p.Authorize("alice", "old", OpAddPool); err != ErrDenied {
		t.Fatalf("old password should no longer authorize, got %v", err)
	}
	if err := p.Authorize("alice", "new", OpRemovePool); err != nil {
		t.Fatalf("Authorize with new credential: %v", err)
	}
}
