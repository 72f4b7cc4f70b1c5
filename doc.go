// Package bursar provides a school fee billing engine for Go applications.
//
// Bursar is designed as a library, not a service. Import it into your Go
// application, or run the bundled HTTP server in cmd/bursar. It provides:
//
//   - Fee structures per academic year, term and level, with priced items
//   - Idempotent invoice generation for every active student
//   - Payment posting with derived balances and overpayment reporting
//   - A conversational front end that fills missing details over several turns
//   - Pluggable hooks for audit trails and metrics
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/bursar"
//	    "github.com/xraph/bursar/store/postgres"
//	)
//
//	store, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	b := bursar.New(store, bursar.WithStudents(students))
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
//
// # Core Concepts
//
// A fee structure is a catalog of fee items for one (year, term, level).
// It is edited while unpublished, then published, which freezes it:
//
//	fs, _ := b.CreateStructure(ctx, school, bursar.CreateStructureInput{
//	    Name: "Term 1 2025", Year: 2025, Term: 1,
//	})
//	b.AddItem(ctx, school, fs.ID, bursar.ItemInput{ItemName: "Tuition", Amount: bursar.Major(25000, "kes")})
//	b.PublishStructure(ctx, school, fs.ID)
//	b.SetDefaultStructure(ctx, school, fs.ID)
//
// Invoices are generated from the term's default structure. Items with a
// class id are added only for students of that class:
//
//	res, _ := b.GenerateInvoices(ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
//	b.BulkIssue(ctx, school, bursar.BulkIssueInput{Year: 2025, Term: 1})
//
// Payments are append-only. Paid, balance and overpayment are never
// stored; every read derives them from the payments:
//
//	b.RecordPayment(ctx, school, bursar.PaymentInput{
//	    InvoiceID: invID, Amount: bursar.Major(5000, "kes"), Method: payment.MethodMpesa,
//	})
//
// All monetary calculations use integer minor units. The Money type
// carries the amount in cents (or whole shillings for UGX) with its currency.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	fst_01h2xcejqtf2nbrexx3vqjhp41   // Fee structure ID
//	inv_01h455vb4pex5vsknk084sn02q   // Invoice ID
//	pay_01h455vb4pex5vsknk084sn02q   // Payment ID
package bursar
