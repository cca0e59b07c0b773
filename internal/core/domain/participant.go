package domain

import "strconv"

// Participant is the presence record cached for every user currently in a
// stream. It is stored as a Redis hash keyed by the user id; the role-indexed
// bucket sets only hold ids and point back at these records.
type Participant struct {
	ID            UserID   `json:"id"`
	Stream        StreamID `json:"stream"`
	Role          Role     `json:"role"`
	IsRaisingHand bool     `json:"isRaisingHand"`
	AudioEnabled  bool     `json:"audioEnabled"`
	VideoEnabled  bool     `json:"videoEnabled"`
	IsBot         bool     `json:"isBot"`
}

// ParticipantUpdate is a partial update; nil fields are left untouched.
type ParticipantUpdate struct {
	Role          *Role
	IsRaisingHand *bool
	AudioEnabled  *bool
	VideoEnabled  *bool
}

// HashFields flattens the record into Redis hash fields.
func (p Participant) HashFields() map[string]interface{} {
	return map[string]interface{}{
		"id":            string(p.ID),
		"stream":        string(p.Stream),
		"role":          string(p.Role),
		"isRaisingHand": strconv.FormatBool(p.IsRaisingHand),
		"audioEnabled":  strconv.FormatBool(p.AudioEnabled),
		"videoEnabled":  strconv.FormatBool(p.VideoEnabled),
		"isBot":         strconv.FormatBool(p.IsBot),
	}
}

// ParticipantFromHash rebuilds a record from Redis hash fields. The second
// return value is false when the hash was empty or missing.
func ParticipantFromHash(data map[string]string) (Participant, bool) {
	if len(data) == 0 || data["id"] == "" {
		return Participant{}, false
	}

	return Participant{
		ID:            UserID(data["id"]),
		Stream:        StreamID(data["stream"]),
		Role:          Role(data["role"]),
		IsRaisingHand: data["isRaisingHand"] == "true",
		AudioEnabled:  data["audioEnabled"] == "true",
		VideoEnabled:  data["videoEnabled"] == "true",
		IsBot:         data["isBot"] == "true",
	}, true
}
