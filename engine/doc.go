// Package engine implements the filtra rule evaluation engine.
//
// The engine applies an ordered list of user-defined filters to email
// messages. Each filter carries a set of rules (OR-combined) and one
// operation; each rule maps field selectors to regular expression patterns
// (AND-combined). When a filter matches, its operation mutates the message's
// tag set, optionally runs an external command and optionally deletes the
// message.
//
// # Filter definitions
//
// Filters are defined in a JSON array:
//
//	[{
//	    "name": "money",
//	    "desc": "Money stuff",
//	    "rules": [
//	        {"from": "@(real\\.bank|gig-economy\\.career)",
//	         "subject": ["report", "month"]},
//	        {"from": "no-reply@trusted\\.bank",
//	         "subject": "statement"}
//	    ],
//	    "op": {"add": "€£$", "rm": ["inbox", "unread"]}
//	}]
//
// The rules above are equivalent to:
//
//	( from: "@real.bank|@gig-economy.career" AND
//	  subject: "report" AND subject: "month" )
//	OR
//	( from: "no-reply@trusted.bank" AND subject: "statement" )
//
// Patterns are case-insensitive, unanchored regular expressions. Any field
// selector that does not start with '@' is a mail header name; the reserved
// selectors are:
//
//   - @path: the storage path of the message file
//   - @tags: tags currently on the message, including tags set by filters
//     that matched earlier in the same pass
//   - @thread-tags: the union of tags across the message's thread, taken as
//     a snapshot before the run started
//   - @attachment: attachment file names
//   - @attachment-body: decoded bodies of text attachments
//   - @body: the decoded plain-text message body
//
// # Execution model
//
//  1. Filters are compiled once into immutable predicate trees; an invalid
//     pattern aborts the run before any message is touched.
//  2. Per message, filters are evaluated strictly in definition order. A
//     matching filter's operation is applied before the next filter is
//     evaluated, so later filters observe earlier tag mutations. A filter is
//     applied at most once per message and skipped filters are never
//     revisited; ordering is the user's responsibility.
//  3. A resolution failure for one filter (for example an unreadable
//     attachment) counts as a non-match for that filter only and never
//     aborts the message or the batch.
//
// Across messages the batch runner is embarrassingly parallel: thread-tag
// snapshots are computed up front in a read-only pass, after which each
// worker owns its message's tag set exclusively.
package engine
