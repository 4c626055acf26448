package entities

// Branding is the clinic's cosmetic identity
type Branding struct {
	ClinicName string            `json:"clinic_name,omitempty"`
	Tagline    string            `json:"tagline,omitempty"`
	Address    string            `json:"address,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	LogoURL    string            `json:"logo_url,omitempty"`
	BannerURL  string            `json:"banner_url,omitempty"`
	Theme      string            `json:"theme,omitempty"`
	ThemeVars  map[string]string `json:"theme_vars,omitempty"`
}
