package domain

import "sort"

// PeerRecord is one entry of the host directory.
// No transport or lifecycle logic here.
type PeerRecord struct {
	PeerID      PeerID `json:"id"`
	UserID      UserID `json:"userId"`
	DisplayName string `json:"name"`
	Role        Role   `json:"role"`
	IsMuted     bool   `json:"isMuted"`
	IsVideoOff  bool   `json:"isVideoOff"`
}

// NewPeerRecord builds the record the host stores for a freshly joined link.
func NewPeerRecord(peer PeerID, id Identity) PeerRecord {
	return PeerRecord{
		PeerID:      peer,
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Role:        id.Role,
	}
}

// SortRecords orders records by peer id so snapshots compare stably.
func SortRecords(recs []PeerRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].PeerID < recs[j].PeerID })
}
