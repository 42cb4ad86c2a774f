package config

// DefaultSensitiveHosts returns a curated list of hosts whose history is
// worth purging eagerly: banking, password managers, healthcare portals,
// authentication providers, and similar services. The `expire --sensitive`
// command deletes every visit to these hosts regardless of age.
func DefaultSensitiveHosts() []string {
	return []string{
		// Banking & Financial
		"chase.com",
		"bankofamerica.com",
		"wellsfargo.com",
		"citi.com",
		"usbank.com",
		"capitalone.com",
		"ally.com",
		"schwab.com",
		"fidelity.com",
		"vanguard.com",
		"etrade.com",
		"robinhood.com",
		"paypal.com",
		"venmo.com",

		// Password Managers
		"1password.com",
		"lastpass.com",
		"bitwarden.com",
		"dashlane.com",

		// Authentication & Identity
		"accounts.google.com",
		"login.microsoftonline.com",
		"login.live.com",
		"auth0.com",
		"okta.com",
		"duo.com",

		// Healthcare & Medical
		"mychart.com",
		"kp.org",
		"healthcare.gov",
		"medicare.gov",

		// Government & Tax
		"irs.gov",
		"ssa.gov",
		"login.gov",
		"id.me",
		"turbotax.intuit.com",

		// Crypto & Trading
		"coinbase.com",
		"binance.com",
		"kraken.com",
	}
}
