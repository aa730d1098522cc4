// Package campaign implements campaign lifecycle management.
//
// The service layer owns the campaign state machine: every status change goes
// through Service.Transition, which checks the transition table before the
// repository performs a compare-and-set on the stored status. It also builds
// the recipient ledger (AttachRecipients) and reconciles the cached counters
// against it. It depends on the Repository and Ledger interfaces defined in
// this package and should never import from api/ or worker/.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
