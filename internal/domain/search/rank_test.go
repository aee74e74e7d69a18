package search

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/command"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func adm(name, record, bed, ward string, admittedDaysAgo int) directory.Admission {
	return directory.Admission{
		PatientID:    uuid.New(),
		FullName:     name,
		RecordNumber: record,
		Bed:          bed,
		Ward:         ward,
		Status:       directory.StatusInpatient,
		AdmittedAt:   base.AddDate(0, 0, -admittedDaysAgo),
	}
}

func TestRank_TopFiveByScoreThenRecency(t *testing.T) {
	var all []directory.Admission
	// 4 exact-token matches, 4 prefix matches, 4 substring matches.
	for i := 0; i < 4; i++ {
		all = append(all, adm(fmt.Sprintf("Maria Exata %d", i), "", "", "", i))
		all = append(all, adm(fmt.Sprintf("Mariana Prefixo %d", i), "", "", "", i))
		all = append(all, adm(fmt.Sprintf("Annamaria Contem %d", i), "", "", "", i))
	}

	got := Rank(all, command.Search{Names: []string{"maria"}}, MaxResults)
	if len(got) != 5 {
		t.Fatalf("expected 5 candidates, got %d", len(got))
	}
	for i := 0; i < 4; i++ {
		want := fmt.Sprintf("Maria Exata %d", i)
		if got[i].FullName != want {
			t.Errorf("position %d: expected %q, got %q", i, want, got[i].FullName)
		}
	}
	if got[4].FullName != "Mariana Prefixo 0" {
		t.Errorf("position 4: expected most recent prefix match, got %q", got[4].FullName)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending at %d: %d > %d", i, got[i].Score, got[i-1].Score)
		}
	}
}

func TestRank_FilterConjunction(t *testing.T) {
	match := adm("Maria Souza", "123", "301", "UTI", 1)
	all := []directory.Admission{
		match,
		adm("Maria Souza", "124", "301", "UTI", 1),
		adm("Maria Souza", "123", "302", "UTI", 1),
		adm("Maria Souza", "123", "301", "CLM", 1),
		adm("Joana Souza", "123", "301", "UTI", 1),
	}
	s := command.Search{Names: []string{"Maria"}, RecordNumber: "123", Bed: "301", Ward: "uti"}

	got := Rank(all, s, MaxResults)
	if len(got) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(got))
	}
	if got[0].PatientID != match.PatientID {
		t.Errorf("unexpected candidate %+v", got[0])
	}
}

func TestRank_WardMatchesCodeOrName(t *testing.T) {
	a := adm("Pedro Lima", "1", "10", "ENF3", 0)
	a.WardName = "Clínica Médica"
	s := command.Search{Ward: "clinica medica"}
	if got := Rank([]directory.Admission{a}, s, MaxResults); len(got) != 1 {
		t.Fatalf("expected ward name match, got %d", len(got))
	}
	if got := Rank([]directory.Admission{a}, command.Search{Ward: "enf3"}, MaxResults); len(got) != 1 {
		t.Fatalf("expected ward code match, got %d", len(got))
	}
}

func TestRank_AccentInsensitiveNames(t *testing.T) {
	a := adm("João Conceição", "", "", "", 0)
	got := Rank([]directory.Admission{a}, command.Search{Names: []string{"JOAO", "conceicao"}}, MaxResults)
	if len(got) != 1 {
		t.Fatalf("expected accent-insensitive match, got %d", len(got))
	}
}

func TestRank_EveryNameTermMustMatch(t *testing.T) {
	a := adm("Maria Silva", "", "", "", 0)
	got := Rank([]directory.Admission{a}, command.Search{Names: []string{"maria", "santos"}}, MaxResults)
	if len(got) != 0 {
		t.Errorf("expected no match when a name term misses, got %d", len(got))
	}
}

func TestRank_ExcludesNotInCare(t *testing.T) {
	inpatient := adm("Ana Costa", "", "", "", 0)
	emergency := adm("Ana Costa", "", "", "", 1)
	emergency.Status = directory.StatusEmergency
	discharged := adm("Ana Costa", "", "", "", 2)
	discharged.Status = directory.StatusDischarged
	outpatient := adm("Ana Costa", "", "", "", 3)
	outpatient.Status = directory.StatusOutpatient

	got := Rank([]directory.Admission{inpatient, emergency, discharged, outpatient}, command.Search{Names: []string{"ana"}}, MaxResults)
	if len(got) != 2 {
		t.Fatalf("expected 2 in-care candidates, got %d", len(got))
	}
	for _, c := range got {
		if !c.Status.InCare() {
			t.Errorf("unexpected status %s", c.Status)
		}
	}
}

func TestRank_TieBreakByPatientID(t *testing.T) {
	a := adm("Ana Costa", "", "", "", 0)
	b := adm("Ana Costa", "", "", "", 0)
	a.PatientID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	b.PatientID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

	for _, in := range [][]directory.Admission{{a, b}, {b, a}} {
		got := Rank(in, command.Search{Names: []string{"ana"}}, MaxResults)
		if got[0].PatientID != b.PatientID {
			t.Errorf("expected lower patient id first, got %s", got[0].PatientID)
		}
	}
}

func TestFold(t *testing.T) {
	tests := map[string]string{
		"JOÃO":         "joao",
		"  Conceição ": "conceicao",
		"Ávila-Núñez":  "avila-nunez",
		"leito 12":     "leito 12",
		"":             "",
	}
	for in, want := range tests {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}
