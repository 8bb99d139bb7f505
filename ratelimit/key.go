package ratelimit

import "strings"

// KeyClass names the kind of client identifier a counter series is keyed by.
type KeyClass string

const (
	ClassOrganization KeyClass = "organization"
	ClassUser         KeyClass = "user"
	ClassIP           KeyClass = "ip"
)

// Key identifies one client for admission purposes.
type Key struct {
	Class KeyClass
	ID    string
}

func (k Key) String() string {
	return string(k.Class) + ":" + k.ID
}

// ResolveKey picks the most specific identifier available, preferring the
// organization, then the user, then the client address.
func ResolveKey(orgID, userID, ip string) Key {
	if orgID = strings.TrimSpace(orgID); orgID != "" {
		return Key{Class: ClassOrganization, ID: orgID}
	}
	if userID = strings.TrimSpace(userID); userID != "" {
		return Key{Class: ClassUser, ID: userID}
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	return Key{Class: ClassIP, ID: ip}
}
