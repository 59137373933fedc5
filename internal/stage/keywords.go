package stage

import "github.com/iago/resume-analyzer-back/internal/domain"

// industryKeywords are the terms the appeal stage looks for per industry.
var industryKeywords = map[domain.IndustryCode][]string{
	domain.IndustryTechConsulting:      {"client", "stakeholder", "digital transformation", "cloud", "architecture", "roadmap", "agile", "delivery"},
	domain.IndustrySoftwareEngineering: {"go", "kubernetes", "microservices", "api", "testing", "ci/cd", "distributed", "performance"},
	domain.IndustryFinanceBanking:      {"risk", "compliance", "portfolio", "financial modeling", "audit", "regulatory", "valuation", "capital"},
	domain.IndustryHealthcare:          {"patient", "clinical", "hipaa", "care", "ehr", "quality improvement", "compliance", "outcomes"},
	domain.IndustryManufacturing:       {"lean", "six sigma", "supply chain", "production", "quality", "safety", "operations", "throughput"},
	domain.IndustryRetailConsumer:      {"merchandising", "customer", "omnichannel", "inventory", "sales", "brand", "e-commerce", "category"},
	domain.IndustryEnergyUtilities:     {"grid", "renewable", "safety", "regulatory", "asset", "operations", "sustainability", "field"},
	domain.IndustryPublicSector:        {"policy", "procurement", "stakeholder", "compliance", "program", "public", "budget", "governance"},
	domain.IndustryMarketingMedia:      {"campaign", "brand", "content", "seo", "analytics", "audience", "engagement", "social"},
	domain.IndustryLegalServices:       {"litigation", "contract", "compliance", "regulatory", "research", "negotiation", "counsel", "due diligence"},
}

func KeywordsFor(industry domain.IndustryCode) []string {
	return append([]string(nil), industryKeywords[industry]...)
}
