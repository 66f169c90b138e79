package ingest

import (
	"math/rand"
	"time"
)

// simThreat pairs a known-hostile IP with its origin country for the
// simulator.
type simThreat struct {
	ip      string
	country string
}

var simThreats = []simThreat{
	{"109.205.176.19", "FR"},
	{"167.71.177.14", "US"},
	{"104.234.115.44", "CA"},
	{"44.220.185.4", "US"},
	{"152.32.211.69", "HK"},
	{"37.18.100.219", "RU"},
	{"36.50.176.144", "VN"},
	{"20.84.152.213", "US"},
}

const (
	simHostname = "CLD-1-NL-TEST-1-1.cdc.lan"
	simTarget   = "172.30.0.250"
)

// SimulateAttempts generates count synthetic outbound attempts against
// known threat IPs, shaped exactly like real sensor payloads.
func SimulateAttempts(count int) []RawAttempt {
	attempts := make([]RawAttempt, 0, count)
	for i := 0; i < count; i++ {
		threat := simThreats[rand.Intn(len(simThreats))]
		attempts = append(attempts, RawAttempt{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Hostname:  simHostname,
			Direction: "OUTBOUND",
			Type:      "IP",
			Threat:    threat.ip,
			Target:    simTarget,
			Country:   threat.country,
			Details: AttemptDetails{
				SourcePort:      rand.Intn(64511) + 1024,
				SourceIP:        simTarget,
				DestinationPort: 443,
				DestinationIP:   threat.ip,
				Protocol:        "tcp",
			},
		})
	}
	return attempts
}
