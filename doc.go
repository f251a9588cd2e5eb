// Package movo and its sub-packages implement the chain listener of the Movo payroll platform.
/*
movo provides one service that follows the payroll contract on chain and reconciles its events into the platform
database:

1) a sender listener (EscrowCreated, PayrollApproved) that links escrows to the latest payroll group of a sender,
 records the payroll transaction history and credits the available balance of each receiver.

2) a receiver listener (WithdrawApproved) that records the withdraw history of a receiver, either to a crypto wallet
 or to a registered bank account.

Architecture

Every contract log is first written to an intake log (package lib/store) keyed by transaction hash and log index, so a
log delivered twice is handled once and events pending when the service stops are resumed on the next start. Each
listener keeps a cursor with the last block whose logs are all in the intake log. At startup and after every
reconnection it backfills from the cursor to the chain head and then follows new logs through a subscription, or by
polling when the node only speaks http (package listener).

Events are decoded with the contract ABI (package lib/event) and handed to the reconcilers (package reconcile).
Histories are keyed by their business id and balance credits carry a key that is applied at most once per document,
so replaying an event does not change balances twice. Events that cannot be reconciled are marked failed and can be
replayed through the ops API or cmd/replay.

The blockchain layer (package lib/block) is implemented over go-ethereum and JSON-RPC. The database layer supports
MongoDB and an in-memory store. Reconciled payrolls, withdrawals and escrow links are published to the message broker
(package lib/msg) when one is configured.

The service can be monitored via a Prometheus API by setting the flag "-m" at startup.

Listener

The service is started running cmd/listener/main.go with a JSON config file (see cmd/conf.json), a .env file or MOVO_
environment variables. An HTTP API exposes the listener cursors, the intake log, event replays and the reconciled
histories.

Replay

cmd/replay/main.go replays a single intake event or every event in a status, and with -heal re-applies the balance
credits missing from the recorded payroll histories.

*/
package movo
