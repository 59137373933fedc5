package domain

import (
	"strings"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

type IndustryCode string

const (
	IndustryTechConsulting      IndustryCode = "tech_consulting"
	IndustrySoftwareEngineering IndustryCode = "software_engineering"
	IndustryFinanceBanking      IndustryCode = "finance_banking"
	IndustryHealthcare          IndustryCode = "healthcare"
	IndustryManufacturing       IndustryCode = "manufacturing"
	IndustryRetailConsumer      IndustryCode = "retail_consumer"
	IndustryEnergyUtilities     IndustryCode = "energy_utilities"
	IndustryPublicSector        IndustryCode = "public_sector"
	IndustryMarketingMedia      IndustryCode = "marketing_media"
	IndustryLegalServices       IndustryCode = "legal_services"
)

type Industry struct {
	Code  IndustryCode `json:"code"`
	Label string       `json:"label"`
}

var industries = []Industry{
	{Code: IndustryTechConsulting, Label: "Technology Consulting"},
	{Code: IndustrySoftwareEngineering, Label: "Software Engineering"},
	{Code: IndustryFinanceBanking, Label: "Finance & Banking"},
	{Code: IndustryHealthcare, Label: "Healthcare"},
	{Code: IndustryManufacturing, Label: "Manufacturing"},
	{Code: IndustryRetailConsumer, Label: "Retail & Consumer Goods"},
	{Code: IndustryEnergyUtilities, Label: "Energy & Utilities"},
	{Code: IndustryPublicSector, Label: "Public Sector"},
	{Code: IndustryMarketingMedia, Label: "Marketing & Media"},
	{Code: IndustryLegalServices, Label: "Legal Services"},
}

// Industries returns the closed set of supported industries in display order.
func Industries() []Industry {
	return append([]Industry(nil), industries...)
}

func (c IndustryCode) Valid() bool {
	for _, industry := range industries {
		if industry.Code == c {
			return true
		}
	}
	return false
}

// ParseIndustry accepts only members of the closed set.
func ParseIndustry(raw string) (IndustryCode, error) {
	code := IndustryCode(strings.ToLower(strings.TrimSpace(raw)))
	if code == "" {
		return "", apperr.Validation("industry_code is required")
	}
	if !code.Valid() {
		return "", apperr.Validation("unknown industry_code %q", raw)
	}
	return code, nil
}
