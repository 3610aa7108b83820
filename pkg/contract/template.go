package contract

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// templateFile is the YAML authoring format for new instruments.
type templateFile struct {
	Type     string            `yaml:"type"`
	ServerID string            `yaml:"server_id"`
	ValidFor string            `yaml:"valid_for"`
	Clauses  map[string]string `yaml:"clauses"`
	Parties  []struct {
		Name     string   `yaml:"name"`
		Agents   []string `yaml:"agents"`
		Accounts []struct {
			Name                   string `yaml:"name"`
			InstrumentDefinitionID string `yaml:"instrument_definition_id"`
		} `yaml:"accounts"`
	} `yaml:"parties"`
	Plan *struct {
		RecipientNymID     string `yaml:"recipient_nym_id"`
		RecipientAccountID string `yaml:"recipient_account_id"`
		InitialAmount      int64  `yaml:"initial_amount"`
		Amount             int64  `yaml:"amount"`
		Period             string `yaml:"period"`
		MaxPayments        int64  `yaml:"max_payments"`
	} `yaml:"plan"`
}

// LoadTemplate builds an unsigned document from a YAML template.
// The document becomes valid at now; valid_for, when set, bounds it.
func LoadTemplate(r io.Reader, now time.Time) (Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("read template: %w", err)
	}
	var tf templateFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	doc := Document{
		Type:      Type(tf.Type),
		ID:        uuid.NewString(),
		ServerID:  tf.ServerID,
		ValidFrom: now.Unix(),
		Clauses:   tf.Clauses,
	}
	if doc.Type == "" {
		doc.Type = TypeSmartContract
	}
	if tf.ValidFor != "" {
		d, err := time.ParseDuration(tf.ValidFor)
		if err != nil || d <= 0 {
			return Document{}, fmt.Errorf("%w: valid_for %q", ErrMalformed, tf.ValidFor)
		}
		doc.ValidTo = now.Add(d).Unix()
	}

	for _, tp := range tf.Parties {
		p := Party{Name: tp.Name}
		for _, a := range tp.Agents {
			p.Agents = append(p.Agents, Agent{Name: a})
		}
		if len(p.Agents) == 0 {
			p.Agents = []Agent{{Name: tp.Name}}
		}
		p.AuthorizingAgent = p.Agents[0].Name
		for _, ta := range tp.Accounts {
			p.Accounts = append(p.Accounts, AccountSlot{
				Name:                   ta.Name,
				InstrumentDefinitionID: ta.InstrumentDefinitionID,
			})
		}
		doc.Parties = append(doc.Parties, p)
	}

	if tf.Plan != nil {
		period, err := time.ParseDuration(tf.Plan.Period)
		if err != nil || period < time.Second {
			return Document{}, fmt.Errorf("%w: plan period %q", ErrMalformed, tf.Plan.Period)
		}
		doc.Plan = &PaymentPlan{
			RecipientNymID:     tf.Plan.RecipientNymID,
			RecipientAccountID: tf.Plan.RecipientAccountID,
			InitialAmount:      tf.Plan.InitialAmount,
			Amount:             tf.Plan.Amount,
			PeriodSeconds:      int64(period / time.Second),
			MaxPayments:        tf.Plan.MaxPayments,
		}
	}

	if doc.Type == TypeSmartContract && len(doc.Parties) == 0 {
		return Document{}, fmt.Errorf("%w: smart contract without parties", ErrMalformed)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}
