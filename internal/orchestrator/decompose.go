package orchestrator

import (
	"github.com/dohr-michael/foreman/internal/agent"
)

// Ledger record types the decomposed tasks read and write.
const (
	recordCustomer     = "customer"
	recordBillableItem = "billable_item"
	recordInvoice      = "invoice"
)

// DecomposeTask expands an intent into tasks. Later tasks read earlier
// results through agent.OutputRef payload values or declared dependencies.
// Unknown actions yield no tasks.
func DecomposeTask(in Intent, ectx *agent.ExecutionContext) []*agent.Task {
	base := basePayload(in, ectx)

	switch in.Action {
	case ActionGenerateInvoice:
		customer := agent.NewTask("fetch_customer", "look up the customer record", with(base, map[string]any{
			"customer":    in.Entities.Customer,
			"record_type": recordCustomer,
		}))
		items := agent.NewTask("query_billable_items", "collect billable items for the customer", with(base, map[string]any{
			"customer_id": agent.OutputRef{TaskID: customer.ID, Path: "id"},
			"record_type": recordBillableItem,
		}))
		invoice := agent.NewTask(ActionGenerateInvoice, "generate the invoice", with(base, map[string]any{
			"customer":    agent.OutputRef{TaskID: customer.ID, Path: "record"},
			"customer_id": agent.OutputRef{TaskID: customer.ID, Path: "id"},
			"items":       agent.OutputRef{TaskID: items.ID, Path: "items"},
			"record_type": recordInvoice,
		}))
		invoice.Priority = agent.PriorityHigh
		return []*agent.Task{customer, items, invoice}

	case ActionBulkInvoices:
		customers := agent.NewTask("query_customers", "list active customers", with(base, map[string]any{
			"record_type": recordCustomer,
		}))
		bulk := agent.NewTask(ActionBulkInvoices, "generate invoices for every active customer", with(base, map[string]any{
			"customers": agent.OutputRef{TaskID: customers.ID, Path: "items"},
		}))
		return []*agent.Task{customers, bulk}

	case ActionPaymentReminder:
		overdue := agent.NewTask("query_overdue_invoices", "find overdue invoices", with(base, map[string]any{
			"customer": in.Entities.Customer,
		}))
		remind := agent.NewTask("send_reminder_email", "email payment reminders", with(base, map[string]any{
			"invoices": agent.OutputRef{TaskID: overdue.ID, Path: "invoices"},
			"template": "payment_reminder",
		}))
		return []*agent.Task{overdue, remind}

	case ActionMonthEndClose:
		invoices := agent.NewTask("invoice_summary", "summarize the month's invoices", with(base, nil))
		payments := agent.NewTask("payment_summary", "summarize the month's payments", with(base, nil))
		expenses := agent.NewTask("expense_summary", "summarize the month's expenses", with(base, nil))
		reconcile := agent.NewTask("reconcile_accounts", "reconcile invoices, payments and expenses", with(base, nil))
		reconcile.Dependencies = []string{invoices.ID, payments.ID, expenses.ID}
		reconcile.Priority = agent.PriorityHigh
		report := agent.NewTask(ActionFinancialReport, "produce the month-end financial report", with(base, nil))
		report.Dependencies = []string{reconcile.ID}
		return []*agent.Task{invoices, payments, expenses, reconcile, report}

	case ActionRecordExpense:
		return []*agent.Task{agent.NewTask(ActionRecordExpense, "record an expense", base)}

	case ActionFinancialReport:
		return []*agent.Task{agent.NewTask(ActionFinancialReport, "produce a financial report", base)}

	case ActionQueryData:
		return []*agent.Task{agent.NewTask("data_query", "answer a data question", with(base, map[string]any{
			"query": in.Request,
		}))}
	}
	return nil
}

func basePayload(in Intent, ectx *agent.ExecutionContext) map[string]any {
	p := map[string]any{}
	e := in.Entities
	if e.Customer != "" {
		p["customer"] = e.Customer
	}
	if e.InvoiceID != "" {
		p["invoice_id"] = e.InvoiceID
	}
	if e.Amount != nil {
		p["amount"] = *e.Amount
	}
	if len(e.Dates) > 0 {
		p["dates"] = e.Dates
	}
	if e.DateRange != "" {
		p["period"] = e.DateRange
	}
	if ectx != nil && ectx.OrganizationID != "" {
		p["organization_id"] = ectx.OrganizationID
	}
	return p
}

// with copies base and overlays extra. Empty string values in extra are dropped.
func with(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}
