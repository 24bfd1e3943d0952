package tracker

import (
	"fmt"
	"strconv"

	yaml "go.yaml.in/yaml/v3"

	"slotwatch/internal/center"
)

// Store keys: one record per subscriber id, plus one reserved manifest key.
const manifestKey = "all_users"

func userKey(user UserID) string {
	return strconv.FormatInt(user, 10)
}

// Record is the persisted per-subscriber state.
type Record struct {
	Subscriptions []center.ID `yaml:"subscriptions"`
	ChatID        int64       `yaml:"chat_id"`
}

// Clone returns a deep copy so callers can't mutate cached state.
func (r Record) Clone() Record {
	cp := r
	cp.Subscriptions = append([]center.ID(nil), r.Subscriptions...)
	return cp
}

func (r Record) tracks(id center.ID) bool {
	for _, c := range r.Subscriptions {
		if c == id {
			return true
		}
	}
	return false
}

type manifest struct {
	Users []UserID `yaml:"users"`
}

func encodeRecord(r Record) (string, error) {
	b, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

func decodeRecord(s string) (Record, error) {
	var r Record
	if err := yaml.Unmarshal([]byte(s), &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

func encodeManifest(users []UserID) (string, error) {
	b, err := yaml.Marshal(manifest{Users: users})
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	return string(b), nil
}

func decodeManifest(s string) ([]UserID, error) {
	var m manifest
	if err := yaml.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return m.Users, nil
}
