package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/binding"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/search"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/visibility"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/audit"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
)

type fakeTokens struct {
	mu     sync.Mutex
	issued int
	err    error
}

func (f *fakeTokens) Issue(_ context.Context, caps ...auth.Capability) (*auth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.issued++
	return &auth.Token{ID: "tok", Scopes: auth.NewCapabilitySet(caps...), ExpiresAt: time.Now().Add(time.Minute)}, nil
}

// fakeDirectory implements the search, visibility and demographics calls.
type fakeDirectory struct {
	mu           sync.Mutex
	admissions   []directory.Admission
	denied       map[uuid.UUID]bool
	missing      map[uuid.UUID]bool
	searchErr    error
	demoErr      error
	searches     int
	demographics int
}

func (f *fakeDirectory) SearchAdmissions(_ context.Context, _ *auth.Token, _ directory.Query) ([]directory.Admission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]directory.Admission(nil), f.admissions...), nil
}

func (f *fakeDirectory) CanView(_ context.Context, _ *auth.Token, _, patientID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[patientID] {
		return false, directory.ErrNotFound
	}
	return !f.denied[patientID], nil
}

func (f *fakeDirectory) Demographics(_ context.Context, _ *auth.Token, patientID uuid.UUID) (*directory.Demographics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.demographics++
	if f.demoErr != nil {
		return nil, f.demoErr
	}
	for _, a := range f.admissions {
		if a.PatientID == patientID {
			birth := time.Date(1970, 5, 20, 0, 0, 0, 0, time.UTC)
			admitted := a.AdmittedAt
			return &directory.Demographics{
				PatientID:    a.PatientID,
				FullName:     a.FullName,
				BirthDate:    &birth,
				Sex:          "F",
				RecordNumber: a.RecordNumber,
				Bed:          a.Bed,
				Ward:         a.Ward,
				AdmittedAt:   &admitted,
			}, nil
		}
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) deny(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied == nil {
		f.denied = make(map[uuid.UUID]bool)
	}
	f.denied[id] = true
}

func (f *fakeDirectory) remove(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing == nil {
		f.missing = make(map[uuid.UUID]bool)
	}
	f.missing[id] = true
}

func admission(name, record, bed, ward string, daysAgo int) directory.Admission {
	return directory.Admission{
		PatientID:    uuid.New(),
		FullName:     name,
		RecordNumber: record,
		Bed:          bed,
		Ward:         ward,
		Status:       directory.StatusInpatient,
		AdmittedAt:   t0.AddDate(0, 0, -daysAgo),
	}
}

type world struct {
	store   *MemoryStore
	dir     *fakeDirectory
	tokens  *fakeTokens
	machine *Machine
	now     time.Time
}

func newWorld(t *testing.T, policy visibility.DenialPolicy, admissions ...directory.Admission) *world {
	t.Helper()
	w := &world{
		store:  NewMemoryStore(),
		dir:    &fakeDirectory{admissions: admissions},
		tokens: &fakeTokens{},
		now:    t0,
	}
	engine := search.NewEngine(w.dir, w.tokens, zerolog.Nop())
	filter := visibility.NewFilter(w.dir, w.tokens, zerolog.Nop())
	w.machine = NewMachine(w.store, engine, filter, w.dir, w.tokens, MachineConfig{
		TTL:    DefaultSelectionTTL,
		Policy: policy,
		Now:    func() time.Time { return w.now },
	}, zerolog.Nop())
	return w
}

type fakeResolver map[string]binding.Resolution

func (f fakeResolver) Resolve(_ context.Context, chatUserID string) (binding.Resolution, error) {
	res, ok := f[chatUserID]
	if !ok {
		return binding.Resolution{}, binding.ErrUnbound
	}
	return res, nil
}

type fakeRooms map[uuid.UUID]string

func (f fakeRooms) IsUsersRoom(_ context.Context, roomID string, key uuid.UUID) (bool, error) {
	return f[key] == roomID, nil
}

type sentMessage struct {
	RoomID string
	Text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendText(_ context.Context, roomID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{RoomID: roomID, Text: text})
	if f.err != nil {
		return "", f.err
	}
	return "$evt", nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memRecorder) Record(e audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *memRecorder) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}
