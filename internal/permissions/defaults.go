package permissions

// DefaultDocument is the policy seeded on first start: read-only capabilities
// and comments run unattended, everything else asks a human.
func DefaultDocument() Document {
	return Document{
		Settings: Settings{
			RequireJustification: false,
			DefaultSecure:        true,
		},
		Allow: []string{
			"list_tasks",
			"get_task",
			"search_memory",
			"add_comment",
		},
		Deny: []string{},
	}
}
