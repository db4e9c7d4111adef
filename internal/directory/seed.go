package directory

import "github.com/MrWong99/meetvoice/internal/meeting"

// Seed is the built-in directory used when no directory file is configured.
var Seed = []meeting.KnownContact{
	{Name: "Phil Anderson", Email: "phil.anderson@abcvc.com", Phone: "+1-415-555-0142", Company: "ABC VC Fund", Title: "Partner"},
	{Name: "Sarah Chen", Email: "sarah.chen@techstars.com", Phone: "+1-212-555-0188", Company: "Techstars", Title: "Managing Director"},
	{Name: "Michael Rodriguez", Email: "m.rodriguez@sequoiacap.com", Company: "Sequoia Capital", Title: "Principal"},
	{Name: "Emily Johnson", Email: "emily@innovatelabs.io", Phone: "+1-650-555-0107", Company: "Innovate Labs", Title: "CEO"},
	{Name: "David Kim", Email: "david.kim@a16z.com", Company: "Andreessen Horowitz", Title: "Associate"},
	{Name: "Lisa Thompson", Email: "lisa.thompson@greenfieldpartners.com", Company: "Greenfield Partners", Title: "Investor Relations"},
}

// Default returns a Directory populated with Seed.
func Default(opts ...Option) *Directory {
	return New(Seed, opts...)
}
