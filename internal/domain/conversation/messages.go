package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/command"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/search"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
)

const (
	msgUnbound          = "Seu usuário não está vinculado a um cadastro verificado. Procure a administração do sistema."
	msgInactive         = "Seu vínculo com o sistema está inativo. Procure a administração do sistema."
	msgWrongRoom        = "Por segurança, envie comandos apenas na sua conversa privada com o bot."
	msgThrottled        = "Muitas solicitações em pouco tempo. Aguarde um instante e tente novamente."
	msgEmptySearch      = "Informe ao menos um termo de busca. Exemplo: /buscar Maria leito:12"
	msgNoResults        = "Nenhum paciente internado encontrado para essa busca."
	msgNoPending        = "Não há busca pendente. Use /buscar para pesquisar um paciente."
	msgExpired          = "Sua seleção expirou. Faça uma nova busca com /buscar."
	msgDenied           = "Você não tem permissão para visualizar este paciente."
	msgNotFound         = "Paciente não encontrado ou sem internação ativa."
	msgUnavailable      = "Sistema temporariamente indisponível. Tente novamente em instantes."
	msgSelectionPrompt  = "Responda com o número do paciente para ver os detalhes."
	msgInvalidFilter    = "Filtro inválido. Use reg:<registro>, leito:<leito> ou enf:<enfermaria>, cada um uma única vez."
	dateLayout          = "02/01/2006"
	unknownFieldDisplay = "não informado"
)

func msgTooLong() string {
	return fmt.Sprintf("Mensagem muito longa. O limite é de %d caracteres.", command.MaxLength)
}

func msgInvalidSelection(n int) string {
	if n == 1 {
		return "Seleção inválida. Responda com 1."
	}
	return fmt.Sprintf("Seleção inválida. Responda com um número de 1 a %d.", n)
}

func renderCandidates(cands []search.Candidate) string {
	var b strings.Builder
	if len(cands) == 1 {
		b.WriteString("Encontrei 1 paciente:\n")
	} else {
		fmt.Fprintf(&b, "Encontrei %d pacientes:\n", len(cands))
	}
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. %s (reg. %s", i+1, c.FullName, orUnknown(c.RecordNumber))
		if c.Bed != "" {
			fmt.Fprintf(&b, ", leito %s", c.Bed)
		}
		if ward := wardLabel(c.Admission); ward != "" {
			fmt.Fprintf(&b, ", %s", ward)
		}
		b.WriteString(")\n")
	}
	b.WriteString(msgSelectionPrompt)
	return b.String()
}

func renderDemographics(d *directory.Demographics, now time.Time, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Paciente: %s\n", d.FullName)
	// Birth dates are calendar dates and carry no meaningful zone.
	fmt.Fprintf(&b, "Nascimento: %s\n", formatDate(d.BirthDate, time.UTC))
	fmt.Fprintf(&b, "Sexo: %s\n", sexLabel(d.Sex))
	fmt.Fprintf(&b, "Registro: %s\n", orUnknown(d.RecordNumber))
	if d.Bed != "" || d.Ward != "" {
		fmt.Fprintf(&b, "Leito: %s %s\n", orUnknown(d.Bed), strings.TrimSpace(d.Ward))
	}
	fmt.Fprintf(&b, "Admissão: %s\n", formatDate(d.AdmittedAt, loc))
	if days := d.LengthOfStayDays(now, loc); days >= 0 {
		if days == 1 {
			b.WriteString("Tempo de internação: 1 dia")
		} else {
			fmt.Fprintf(&b, "Tempo de internação: %d dias", days)
		}
	} else {
		b.WriteString("Tempo de internação: " + unknownFieldDisplay)
	}
	return b.String()
}

func wardLabel(a directory.Admission) string {
	if a.WardName != "" {
		return a.WardName
	}
	return a.Ward
}

func formatDate(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return unknownFieldDisplay
	}
	return t.In(loc).Format(dateLayout)
}

func sexLabel(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE":
		return "Masculino"
	case "F", "FEMALE":
		return "Feminino"
	case "":
		return unknownFieldDisplay
	default:
		return "Outro"
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknownFieldDisplay
	}
	return s
}
