package orchestrator

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Actions produced by the classifiers.
const (
	ActionGenerateInvoice = "generate_invoice"
	ActionBulkInvoices    = "bulk_generate_invoices"
	ActionPaymentReminder = "payment_reminder"
	ActionMonthEndClose   = "month_end_close"
	ActionRecordExpense   = "record_expense"
	ActionFinancialReport = "financial_report"
	ActionQueryData       = "query_data"
)

// Entities are the structured facts pulled out of a request.
type Entities struct {
	Customer     string   `json:"customer,omitempty"`
	InvoiceID    string   `json:"invoice_id,omitempty"`
	Amount       *float64 `json:"amount,omitempty"`
	Dates        []string `json:"dates,omitempty"`
	DateRange    string   `json:"date_range,omitempty"` // this_week, this_month, last_week...
	AllCustomers bool     `json:"all_customers,omitempty"`
}

// Intent is one interpretation of a request.
type Intent struct {
	Action     string   `json:"action"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities"`
	Agents     []string `json:"agents,omitempty"`
	Request    string   `json:"request,omitempty"`
}

// Classifier turns a free-text request into candidate intents.
type Classifier interface {
	Classify(ctx context.Context, request string) ([]Intent, error)
}

// Best returns the intent with the highest confidence. Ties keep the first.
func Best(intents []Intent) (Intent, bool) {
	if len(intents) == 0 {
		return Intent{}, false
	}
	best := intents[0]
	for _, in := range intents[1:] {
		if in.Confidence > best.Confidence {
			best = in
		}
	}
	return best, true
}

// Rule maps keywords to an action.
type Rule struct {
	Action     string
	Keywords   []string // any one triggers the rule
	Boosts     []string // each match adds 0.1
	Confidence float64
	Agents     []string
}

// DefaultRules cover the built-in business actions.
var DefaultRules = []Rule{
	{
		Action:     ActionMonthEndClose,
		Keywords:   []string{"month-end", "month end", "close the books", "closing"},
		Confidence: 0.9,
		Agents:     []string{"accounting_agent", "invoice_agent"},
	},
	{
		Action:     ActionGenerateInvoice,
		Keywords:   []string{"invoice", "invoices", "bill"},
		Boosts:     []string{"generate", "create", "issue", "make"},
		Confidence: 0.6,
		Agents:     []string{"invoice_agent", "data_agent"},
	},
	{
		Action:     ActionPaymentReminder,
		Keywords:   []string{"remind", "reminder", "reminders", "overdue", "chase"},
		Boosts:     []string{"payment", "payments", "unpaid", "late"},
		Confidence: 0.7,
		Agents:     []string{"invoice_agent", "email_agent"},
	},
	{
		Action:     ActionRecordExpense,
		Keywords:   []string{"expense", "expenses", "receipt", "spent"},
		Boosts:     []string{"record", "add", "log"},
		Confidence: 0.6,
		Agents:     []string{"accounting_agent"},
	},
	{
		Action:     ActionFinancialReport,
		Keywords:   []string{"report", "p&l", "profit", "balance sheet", "revenue"},
		Boosts:     []string{"financial", "monthly", "quarterly"},
		Confidence: 0.6,
		Agents:     []string{"accounting_agent"},
	},
	{
		Action:     ActionQueryData,
		Keywords:   []string{"show", "list", "how many", "find", "query", "which"},
		Confidence: 0.4,
		Agents:     []string{"data_agent"},
	},
}

// RuleClassifier matches requests against keyword rules.
type RuleClassifier struct {
	rules []Rule
}

// NewRuleClassifier creates a classifier. No rules means DefaultRules.
func NewRuleClassifier(rules ...Rule) *RuleClassifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &RuleClassifier{rules: rules}
}

func (c *RuleClassifier) Classify(_ context.Context, request string) ([]Intent, error) {
	text := normalizeText(request)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	entities := ExtractEntities(request)

	var intents []Intent
	for _, r := range c.rules {
		if !containsAny(text, r.Keywords) {
			continue
		}
		confidence := r.Confidence
		for _, b := range r.Boosts {
			if containsPhrase(text, b) {
				confidence += 0.1
			}
		}
		action := r.Action
		if action == ActionGenerateInvoice && entities.AllCustomers {
			action = ActionBulkInvoices
			confidence += 0.1
		}
		intents = append(intents, Intent{
			Action:     action,
			Confidence: min(confidence, 1),
			Entities:   entities,
			Agents:     r.Agents,
			Request:    request,
		})
	}
	return intents, nil
}

func (c *RuleClassifier) agentsFor(action string) []string {
	if action == ActionBulkInvoices {
		action = ActionGenerateInvoice
	}
	for _, r := range c.rules {
		if r.Action == action {
			return r.Agents
		}
	}
	return nil
}

var (
	datePattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	invoicePattern  = regexp.MustCompile(`(?i)\bINV-?\d+\b`)
	currencyPattern = regexp.MustCompile(`[$€£]\s?(\d+(?:[.,]\d{1,2})?)|(\d+(?:\.\d{1,2})?)\s?(?i:eur|euros?|usd|dollars?)\b`)
	customerPattern = regexp.MustCompile(`\b(?:for|to|customer|client)\s+([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*)*)`)
	allCustomers    = regexp.MustCompile(`(?i)\b(?:all|every)\s+(?:customers?|clients?)\b`)
)

var dateRanges = []struct{ phrase, value string }{
	{"this week", "this_week"},
	{"last week", "last_week"},
	{"this month", "this_month"},
	{"last month", "last_month"},
	{"this quarter", "this_quarter"},
	{"today", "today"},
	{"yesterday", "yesterday"},
}

// ExtractEntities pulls dates, amounts, customer names and ranges out of text.
func ExtractEntities(request string) Entities {
	var e Entities
	e.Dates = datePattern.FindAllString(request, -1)
	e.InvoiceID = strings.ToUpper(invoicePattern.FindString(request))
	e.AllCustomers = allCustomers.MatchString(request)

	if m := currencyPattern.FindStringSubmatch(request); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64); err == nil {
			e.Amount = &v
		}
	}

	if !e.AllCustomers {
		if m := customerPattern.FindStringSubmatch(request); m != nil {
			e.Customer = strings.TrimRight(m[1], ".")
		}
	}

	lower := strings.ToLower(request)
	for _, r := range dateRanges {
		if strings.Contains(lower, r.phrase) {
			e.DateRange = r.value
			break
		}
	}
	return e
}

// normalizeText lowercases text and collapses punctuation to single spaces.
func normalizeText(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '&', r == '-':
			sb.WriteRune(r)
		case r > 127:
			sb.WriteRune(r)
		default:
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(text, p) {
			return true
		}
	}
	return false
}
