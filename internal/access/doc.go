// Package access stores the credentials that disarm the alarm and open the
// wicket gate: RFID tag IDs and keypad PINs.
//
// Secrets are kept only as Argon2id hashes in PHC string form. A Store
// satisfies the rule engine's CredentialChecker; AnyOf combines it with
// credentials listed in configuration.
//
//	store := access.NewStore(db.DB)
//	engine, err := automation.NewEngine(cfg, reg, disp, eb,
//	    access.AnyOf(automation.StaticCredentials(cfg.Automation.Credentials), store))
package access
