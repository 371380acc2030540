package bulkload

// AdminTemplate is the example file offered to administrators
const AdminTemplate = `S|Acme Freight|Jane|Doe|jane.doe@acmefreight.com
D|Acme Freight|John|Smith|john.smith@example.com|DL1234567
`

// SponsorTemplate is the example file offered to sponsors; drivers join the uploader's organization
const SponsorTemplate = `D|John|Smith|john.smith@example.com|DL1234567
D|Maria|Garcia|maria.garcia@example.com|DL7654321
`

// Template returns the example file for mode
func Template(mode Mode) string {
	if mode == ModeAdmin {
		return AdminTemplate
	}
	return SponsorTemplate
}
