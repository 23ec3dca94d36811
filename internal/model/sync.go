package model

// SyncState is the dispatch state of an entity for one trading partner.
type SyncState string

const (
	SyncUnsent    SyncState = "unsent"
	SyncSending   SyncState = "sending"
	SyncConfirmed SyncState = "confirmed"
)
