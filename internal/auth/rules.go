// SPDX-License-Identifier: Apache-2.0

package auth

// Rules is the AuthRules configuration snapshot, immutable for the process
// lifetime.
type Rules struct {
	Enabled             bool
	Users               map[string]struct{}
	HostDomains         map[string]struct{}
	DefaultAllowIssuers map[string]struct{}
	JWTKeyEndpoints     []string
}

// NewRules builds a Rules from plain string slices (the shape TOML/viper
// unmarshals into).
func NewRules(enabled bool, users, hostDomains, defaultAllowIssuers, jwtKeyEndpoints []string) Rules {
	return Rules{
		Enabled:             enabled,
		Users:               toSet(users),
		HostDomains:         toSet(hostDomains),
		DefaultAllowIssuers: toSet(defaultAllowIssuers),
		JWTKeyEndpoints:     append([]string(nil), jwtKeyEndpoints...),
	}
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

// Decision is the result of applying the acceptance rule to a claim set.
type Decision struct {
	// Accepted is whether the session may proceed.
	Accepted bool

	// AssignFromSub is set when the accepting branch was the
	// default-allow-issuers branch: the caller should try to use Sub as the
	// TunnelId, falling back to a fresh random id on registry collision.
	AssignFromSub bool

	// Sub is the claim's subject, valid only when AssignFromSub is true.
	Sub string
}

// Validate applies the acceptance disjunction:
//
//	(email_verified && email in users) ||
//	(iss in default_allow_issuers && sub present) ||
//	(hd in host_domains)
//
// The three branches are checked in this order because the first two
// sources of trust (an explicit allow-listed user, a trusted issuer) are
// stronger signals than a host-domain match and should win when they apply.
func Validate(c Claims, r Rules) Decision {
	if c.EmailVerified {
		if _, ok := r.Users[c.Email]; ok {
			return Decision{Accepted: true}
		}
	}

	if _, ok := r.DefaultAllowIssuers[c.Issuer]; ok && c.Sub != "" {
		return Decision{Accepted: true, AssignFromSub: true, Sub: c.Sub}
	}

	if _, ok := r.HostDomains[c.HD]; ok && c.HD != "" {
		return Decision{Accepted: true}
	}

	return Decision{Accepted: false}
}
