package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/command"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
)

type fakeTokens struct {
	requested []auth.Capability
	err       error
}

func (f *fakeTokens) Issue(_ context.Context, caps ...auth.Capability) (*auth.Token, error) {
	f.requested = append(f.requested, caps...)
	if f.err != nil {
		return nil, f.err
	}
	return &auth.Token{ID: "tok-1", Scopes: auth.NewCapabilitySet(caps...), ExpiresAt: time.Now().Add(time.Minute)}, nil
}

type fakeDirectory struct {
	admissions []directory.Admission
	err        error
	lastQuery  directory.Query
	calls      int
}

func (f *fakeDirectory) SearchAdmissions(_ context.Context, _ *auth.Token, q directory.Query) ([]directory.Admission, error) {
	f.calls++
	f.lastQuery = q
	return f.admissions, f.err
}

func TestEngine_Search(t *testing.T) {
	dir := &fakeDirectory{admissions: []directory.Admission{
		adm("Carlos Silva", "1", "12", "UTI", 2),
		adm("Marta Silva", "2", "12", "UTI", 1),
		adm("Carlos Silva", "3", "13", "UTI", 0),
	}}
	tokens := &fakeTokens{}
	e := NewEngine(dir, tokens, zerolog.Nop())

	got, err := e.Search(context.Background(), command.Search{Names: []string{"Silva"}, Bed: "12"})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].FullName != "Marta Silva" {
		t.Errorf("expected most recent admission first, got %s", got[0].FullName)
	}

	if len(tokens.requested) != 1 || tokens.requested[0] != auth.PatientSearch {
		t.Errorf("expected a patient:search token, got %v", tokens.requested)
	}
	if len(dir.lastQuery.Statuses) != 2 {
		t.Errorf("expected in-care statuses in query, got %v", dir.lastQuery.Statuses)
	}
}

func TestEngine_Search_EmptyCriteria(t *testing.T) {
	dir := &fakeDirectory{}
	e := NewEngine(dir, &fakeTokens{}, zerolog.Nop())
	if _, err := e.Search(context.Background(), command.Search{}); !errors.Is(err, command.ErrEmptySearch) {
		t.Fatalf("expected ErrEmptySearch, got %v", err)
	}
	if dir.calls != 0 {
		t.Error("directory must not be called for an empty search")
	}
}

func TestEngine_Search_TokenFailure(t *testing.T) {
	dir := &fakeDirectory{}
	e := NewEngine(dir, &fakeTokens{err: auth.ErrIssuerUnavailable}, zerolog.Nop())
	_, err := e.Search(context.Background(), command.Search{Names: []string{"x"}})
	if !errors.Is(err, auth.ErrIssuerUnavailable) {
		t.Fatalf("expected ErrIssuerUnavailable, got %v", err)
	}
	if dir.calls != 0 {
		t.Error("directory must not be called without a token")
	}
}

func TestEngine_Search_DirectoryFailure(t *testing.T) {
	dir := &fakeDirectory{err: directory.ErrUnavailable}
	e := NewEngine(dir, &fakeTokens{}, zerolog.Nop())
	if _, err := e.Search(context.Background(), command.Search{Names: []string{"x"}}); !errors.Is(err, directory.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
