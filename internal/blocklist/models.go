package blocklist

/*
blockcrack — recovers obfuscated domains from Mastodon instance block lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Constants describing the Mastodon domain-blocks endpoint.
const (
	DomainBlocksPath = "/api/v1/instance/domain_blocks"
	// DefaultUserAgent mimics a desktop browser. Some instances (mstdn.jp)
	// answer 404 to requests without a browser user agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36"
	// ObfuscationMarker is the byte instances use to hide parts of a domain.
	ObfuscationMarker = '*'
)

// DefaultSources is the seed set of instances whose block lists are fetched
// when neither the config file nor the command line names any.
var DefaultSources = []string{
	"mastodon.social",
	"mstdn.jp",
	"mastodon.cloud",
	"mastodon.online",
	"mstdn.social",
	"mas.to",
	"home.social",
}

// Severity is the level to which a domain is blocked.
type Severity string

const (
	SeveritySilence Severity = "silence"
	SeveritySuspend Severity = "suspend"
)

// UnmarshalText rejects severities other than silence and suspend. An empty
// value is accepted as unset.
func (s *Severity) UnmarshalText(text []byte) error {
	switch v := Severity(text); v {
	case "", SeveritySilence, SeveritySuspend:
		*s = v
		return nil
	default:
		return fmt.Errorf("unknown block severity %q", string(text))
	}
}

// DomainBlock is one entry of an instance's published block list.
// https://docs.joinmastodon.org/methods/instance/#domain_blocks
type DomainBlock struct {
	// Domain is the blocked domain. It may be obfuscated with '*'.
	Domain string `json:"domain"`
	// Digest is the hex SHA-256 digest of the real domain string.
	Digest string `json:"digest"`
	// Severity is the level to which the domain is blocked.
	Severity Severity `json:"severity"`
	// Comment is the optional public reason. Empty when none was given.
	Comment string `json:"comment"`
}

// IsObfuscated reports whether Domain hides some of its characters.
func (b DomainBlock) IsObfuscated() bool {
	return strings.IndexByte(b.Domain, ObfuscationMarker) >= 0
}

// BlockList is the block list of one source instance as it was observed.
// The JSON field names match the documents written by earlier versions.
type BlockList struct {
	Source    string        `json:"domain"`
	Entries   []DomainBlock `json:"list"`
	FetchedAt time.Time     `json:"fetched_at,omitzero"`
}

// Find returns the entry carrying digest, if the list has one.
func (bl *BlockList) Find(digest string) (DomainBlock, bool) {
	for _, e := range bl.Entries {
		if strings.EqualFold(e.Digest, digest) {
			return e, true
		}
	}
	return DomainBlock{}, false
}

// decodeEntries parses an endpoint response body.
func decodeEntries(body []byte) ([]DomainBlock, error) {
	var entries []DomainBlock
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("error parsing domain blocks JSON: %w", err)
	}
	return entries, nil
}
