package session

import (
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/trustplane/geo"
)

// Hash field names. Timestamps are stored as unix milliseconds.
const (
	fieldID           = "sid"
	fieldIdentity     = "identity"
	fieldIssuedAt     = "issued_at"
	fieldExpiresAt    = "expires_at"
	fieldLastActivity = "last_activity_at"
	fieldActive       = "active"
	fieldIP           = "ip"
	fieldUserAgent    = "ua"
	fieldDevice       = "device"
	fieldCountry      = "country"
	fieldRegion       = "region"
	fieldCity         = "city"
	fieldRefreshHash  = "refresh_hash"
	fieldEndedAt      = "ended_at"
	fieldEndReason    = "end_reason"
)

var errCorruptRecord = errors.New("session record corrupt")

func encodeRecord(r *Record) map[string]any {
	active := "0"
	if r.Active {
		active = "1"
	}
	fields := map[string]any{
		fieldID:           r.SessionID,
		fieldIdentity:     r.IdentityID,
		fieldIssuedAt:     r.IssuedAt.UnixMilli(),
		fieldExpiresAt:    r.ExpiresAt.UnixMilli(),
		fieldLastActivity: r.LastActivityAt.UnixMilli(),
		fieldActive:       active,
		fieldIP:           r.IPAddress,
		fieldUserAgent:    r.UserAgent,
		fieldDevice:       string(r.DeviceType),
		fieldCountry:      r.Location.Country,
		fieldRegion:       r.Location.Region,
		fieldCity:         r.Location.City,
	}
	if r.refreshHash != "" {
		fields[fieldRefreshHash] = r.refreshHash
	}
	return fields
}

func decodeRecord(fields map[string]string) (*Record, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	if fields[fieldID] == "" || fields[fieldIdentity] == "" {
		return nil, errCorruptRecord
	}

	issued, err := decodeMillis(fields[fieldIssuedAt])
	if err != nil {
		return nil, err
	}
	expires, err := decodeMillis(fields[fieldExpiresAt])
	if err != nil {
		return nil, err
	}
	last, err := decodeMillis(fields[fieldLastActivity])
	if err != nil {
		return nil, err
	}
	var ended time.Time
	if v := fields[fieldEndedAt]; v != "" {
		if ended, err = decodeMillis(v); err != nil {
			return nil, err
		}
	}

	return &Record{
		SessionID:      fields[fieldID],
		IdentityID:     fields[fieldIdentity],
		IssuedAt:       issued,
		ExpiresAt:      expires,
		LastActivityAt: last,
		Active:         fields[fieldActive] == "1",
		IPAddress:      fields[fieldIP],
		UserAgent:      fields[fieldUserAgent],
		DeviceType:     DeviceType(fields[fieldDevice]),
		Location: geo.Location{
			Country: fields[fieldCountry],
			Region:  fields[fieldRegion],
			City:    fields[fieldCity],
		},
		EndedAt:     ended,
		EndReason:   fields[fieldEndReason],
		refreshHash: fields[fieldRefreshHash],
	}, nil
}

func decodeMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, errCorruptRecord
	}
	return time.UnixMilli(ms), nil
}
