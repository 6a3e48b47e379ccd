// AngelaMos | 2026
// dto.go

package webhook

// applePushRequest is the App Store Server Notification V2 envelope.
type applePushRequest struct {
	SignedPayload string `json:"signedPayload"`
}

// googlePushRequest is the Pub/Sub push envelope Google wraps developer
// notifications in.
type googlePushRequest struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Real-time developer notification, decoded from the Pub/Sub data field.
type DeveloperNotification struct {
	Version                     string                       `json:"version"`
	PackageName                 string                       `json:"packageName"`
	EventTimeMillis             string                       `json:"eventTimeMillis"`
	OneTimeProductNotification  *OneTimeProductNotification  `json:"oneTimeProductNotification,omitempty"`
	VoidedPurchaseNotification  *VoidedPurchaseNotification  `json:"voidedPurchaseNotification,omitempty"`
	SubscriptionNotification    map[string]any               `json:"subscriptionNotification,omitempty"`
	TestNotification            map[string]any               `json:"testNotification,omitempty"`
}

const (
	oneTimeProductPurchased = 1
	oneTimeProductCanceled  = 2
)

type OneTimeProductNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SKU              string `json:"sku"`
}

type VoidedPurchaseNotification struct {
	PurchaseToken string `json:"purchaseToken"`
	OrderID       string `json:"orderId"`
	ProductType   int    `json:"productType"`
}
