package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/transfa/reconciliation-service/internal/domain"
)

// Classify decodes a verified webhook body and maps it to an internal action.
// Unknown event types classify as domain.Unhandled and are not an error.
func Classify(provider domain.Provider, body []byte) (domain.ProviderEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.ProviderEvent{}, fmt.Errorf("%w: %s webhook body is not a JSON object", domain.ErrInvalidRequest, provider)
	}

	var event domain.ProviderEvent
	var err error
	switch provider {
	case domain.ProviderStripe:
		event, err = classifyStripe(payload)
	case domain.ProviderPayPal:
		event, err = classifyPayPal(payload)
	case domain.ProviderBTCPay:
		event, err = classifyBTCPay(payload)
	case domain.ProviderCoinbase:
		event, err = classifyCoinbase(payload)
	case domain.ProviderAuthorizeNet:
		event, err = classifyAuthorizeNet(payload)
	default:
		return domain.ProviderEvent{}, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidRequest, provider)
	}
	if err != nil {
		return domain.ProviderEvent{}, err
	}
	event.Provider = provider
	if event.Action == nil {
		event.Action = domain.Unhandled{EventType: event.EventType}
	}
	return event, nil
}

func classifyStripe(payload map[string]any) (domain.ProviderEvent, error) {
	event := domain.ProviderEvent{
		EventID:   stringAt(payload, "id"),
		EventType: stringAt(payload, "type"),
	}
	object := mapAt(payload, "data", "object")

	switch event.EventType {
	case "checkout.session.completed":
		ref := firstNonEmpty(stringAt(object, "payment_intent"), stringAt(object, "id"))
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferCompleted{ExternalRef: ref}
	case "payment_intent.succeeded":
		ref := stringAt(object, "id")
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferCompleted{ExternalRef: ref}
	case "payment_intent.payment_failed":
		ref := stringAt(object, "id")
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferFailed{
			ExternalRef: ref,
			Reason:      stringAt(object, "last_payment_error", "message"),
		}
	case "account.updated":
		accountID := stringAt(object, "id")
		if accountID == "" {
			return event, missingRef(event)
		}
		// Only an explicit pending or inactive transfers capability unlinks the account.
		capability := stringAt(object, "capabilities", "transfers")
		event.Action = domain.AccountCapabilityUpdated{
			AccountID: accountID,
			Linked:    capability != "pending" && capability != "inactive",
		}
	}
	return event, nil
}

func classifyPayPal(payload map[string]any) (domain.ProviderEvent, error) {
	event := domain.ProviderEvent{
		EventID:   stringAt(payload, "id"),
		EventType: stringAt(payload, "event_type"),
	}
	resource := mapAt(payload, "resource")
	ref := stringAt(resource, "supplementary_data", "related_ids", "order_id")

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		// A capture can be reported COMPLETED at the event level while the resource is still PENDING.
		if !strings.EqualFold(stringAt(resource, "status"), "COMPLETED") {
			return event, nil
		}
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferCompleted{ExternalRef: ref}
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferFailed{
			ExternalRef: ref,
			Reason:      firstNonEmpty(stringAt(resource, "status_details", "reason"), event.EventType),
		}
	}
	return event, nil
}

func classifyBTCPay(payload map[string]any) (domain.ProviderEvent, error) {
	event := domain.ProviderEvent{
		// Redeliveries get a new deliveryId but keep the original one.
		EventID:   firstNonEmpty(stringAt(payload, "originalDeliveryId"), stringAt(payload, "deliveryId")),
		EventType: stringAt(payload, "type"),
	}

	switch event.EventType {
	case "InvoiceSettled":
		ref := stringAt(payload, "invoiceId")
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferCompleted{ExternalRef: ref}
	case "InvoiceExpired", "InvoiceInvalid":
		ref := stringAt(payload, "invoiceId")
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferFailed{ExternalRef: ref, Reason: event.EventType}
	case "PayoutUpdated":
		ref := stringAt(payload, "payoutId")
		state := firstNonEmpty(stringAt(payload, "payoutState"), stringAt(payload, "state"))
		switch state {
		case "Completed":
			if ref == "" {
				return event, missingRef(event)
			}
			event.Action = domain.TransferCompleted{ExternalRef: ref}
		case "Cancelled":
			if ref == "" {
				return event, missingRef(event)
			}
			event.Action = domain.TransferFailed{ExternalRef: ref, Reason: "payout cancelled"}
		}
	}
	return event, nil
}

func classifyCoinbase(payload map[string]any) (domain.ProviderEvent, error) {
	inner := mapAt(payload, "event")
	event := domain.ProviderEvent{
		EventID:   firstNonEmpty(stringAt(inner, "id"), stringAt(payload, "id")),
		EventType: stringAt(inner, "type"),
	}
	ref := stringAt(inner, "data", "code")

	switch event.EventType {
	case "charge:confirmed", "charge:resolved":
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferCompleted{ExternalRef: ref}
	case "charge:failed":
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferFailed{ExternalRef: ref, Reason: event.EventType}
	}
	return event, nil
}

func classifyAuthorizeNet(payload map[string]any) (domain.ProviderEvent, error) {
	event := domain.ProviderEvent{
		EventID:   stringAt(payload, "notificationId"),
		EventType: stringAt(payload, "eventType"),
	}
	ref := stringAt(payload, "payload", "id")

	switch event.EventType {
	case "net.authorize.payment.authcapture.created":
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferCompleted{ExternalRef: ref}
	case "net.authorize.payment.fraud.declined":
		if ref == "" {
			return event, missingRef(event)
		}
		event.Action = domain.TransferFailed{ExternalRef: ref, Reason: "fraud declined"}
	}
	return event, nil
}

func missingRef(event domain.ProviderEvent) error {
	return fmt.Errorf("%w: %s event %s carries no reference", domain.ErrInvalidRequest, event.EventType, event.EventID)
}

// valueAt walks nested JSON objects; arrays are indexed with numeric string keys.
func valueAt(root any, path ...string) any {
	current := root
	for _, key := range path {
		switch node := current.(type) {
		case map[string]any:
			current = node[key]
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}

func stringAt(root any, path ...string) string {
	switch v := valueAt(root, path...).(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func mapAt(root any, path ...string) map[string]any {
	m, _ := valueAt(root, path...).(map[string]any)
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
