// AngelaMos | 2026
// dto.go

package ledger

// Outcome tags the result of a purchase or restore so callers never have to
// reconstruct intent from boolean flags.
type Outcome string

const (
	OutcomePurchased    Outcome = "purchased"
	OutcomeAlreadyOwned Outcome = "already_owned"
)

type CommitPurchaseRequest struct {
	Platform     string `json:"platform"      validate:"required,oneof=ios android"`
	ProductID    string `json:"product_id"    validate:"required,max=255"`
	ReceiptToken string `json:"receipt_token" validate:"required,max=4096"`
	DeviceHash   string `json:"device_hash"   validate:"required,max=255"`
	Nonce        string `json:"nonce"         validate:"required,uuid"`
}

type CommitPurchaseResponse struct {
	Outcome    Outcome `json:"outcome"`
	PlanType   string  `json:"plan_type"`
	PurchaseID string  `json:"purchase_id"`
}

type RegisterDeviceRequest struct {
	DeviceHash string `json:"device_hash" validate:"required,max=255"`
}

type RegisterDeviceResponse struct {
	IsNewDevice             bool `json:"is_new_device"`
	PreviousDeviceLoggedOut bool `json:"previous_device_logged_out"`
}

type StatusResponse struct {
	Premium                bool   `json:"premium"`
	PlanType               string `json:"plan_type,omitempty"`
	DeviceMatch            bool   `json:"device_match"`
	RequiresDeviceTransfer bool   `json:"requires_device_transfer,omitempty"`
	IsOwner                bool   `json:"is_owner,omitempty"`
	FamilyGroupID          string `json:"family_group_id,omitempty"`
}
