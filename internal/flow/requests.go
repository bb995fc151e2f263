package flow

type (
	// QueryRequest drives the RAG query flow
	QueryRequest struct {
		Message   string `json:"message" binding:"required"`
		UserID    string `json:"user_id" binding:"required"`
		SessionID string `json:"session_id"`
		TopK      int    `json:"top_k" binding:"omitempty,min=1,max=50"`
	}

	// OnboardRequest drives the onboarding flow. Optional profile fields
	// are pointers so absent values stay out of the normalization payload.
	OnboardRequest struct {
		Phone                 string   `json:"phone" binding:"required"`
		Password              string   `json:"password" binding:"required"`
		Name                  string   `json:"name" binding:"required"`
		State                 *string  `json:"state"`
		District              *string  `json:"district"`
		LanguagePreference    string   `json:"language_preference"`
		ConsentDataProcessing bool     `json:"consent_data_processing"`
		DateOfBirth           *string  `json:"date_of_birth"`
		Gender                *string  `json:"gender"`
		Pincode               *string  `json:"pincode"`
		AnnualIncome          *float64 `json:"annual_income"`
		Occupation            *string  `json:"occupation"`
		Category              *string  `json:"category"`
		Religion              *string  `json:"religion"`
		MaritalStatus         *string  `json:"marital_status"`
		EducationLevel        *string  `json:"education_level"`
		FamilySize            *int     `json:"family_size"`
		IsBPL                 *bool    `json:"is_bpl"`
		IsRural               *bool    `json:"is_rural"`
		DisabilityStatus      *string  `json:"disability_status"`
		LandHoldingAcres      *float64 `json:"land_holding_acres"`
	}

	// EligibilityRequest drives the eligibility check flow
	EligibilityRequest struct {
		UserID    string         `json:"user_id" binding:"required"`
		Profile   map[string]any `json:"profile" binding:"required"`
		SchemeIDs []string       `json:"scheme_ids"`
		Explain   *bool          `json:"explain"`
	}

	// IngestPolicyRequest drives the policy ingestion pipeline
	IngestPolicyRequest struct {
		SourceURL  string   `json:"source_url" binding:"required"`
		SourceType string   `json:"source_type"`
		Tags       []string `json:"tags"`
	}

	// VoiceQueryRequest drives the voice query flow. Audio input is
	// transcribed by the client before reaching this layer.
	VoiceQueryRequest struct {
		Text     string `json:"text" binding:"required"`
		Language string `json:"language"`
		UserID   string `json:"user_id"`
	}

	// SimulateRequest drives the what-if simulation flow
	SimulateRequest struct {
		UserID         string         `json:"user_id" binding:"required"`
		CurrentProfile map[string]any `json:"current_profile" binding:"required"`
		Changes        map[string]any `json:"changes" binding:"required"`
		Explain        *bool          `json:"explain"`
	}
)

// Normalize applies request defaults after binding
func (r *QueryRequest) Normalize() {
	if r.TopK == 0 {
		r.TopK = 5
	}
}

// Normalize applies request defaults after binding
func (r *OnboardRequest) Normalize() {
	if r.LanguagePreference == "" {
		r.LanguagePreference = "en"
	}
}

// Normalize applies request defaults after binding
func (r *IngestPolicyRequest) Normalize() {
	if r.SourceType == "" {
		r.SourceType = "web"
	}
}

// Normalize applies request defaults after binding
func (r *VoiceQueryRequest) Normalize() {
	if r.Language == "" {
		r.Language = "hindi"
	}
	if r.UserID == "" {
		r.UserID = "anonymous"
	}
}

// Normalize applies request defaults after binding
func (r *EligibilityRequest) Normalize() {}

// Normalize applies request defaults after binding
func (r *SimulateRequest) Normalize() {}

func (r *EligibilityRequest) explain() bool {
	return r.Explain == nil || *r.Explain
}

func (r *SimulateRequest) explain() bool {
	return r.Explain == nil || *r.Explain
}
