package events

// Topics emitted by the billing core.
const (
	TopicOrderCreated         = "order.created"
	TopicOrderPaid            = "order.paid"
	TopicOrderFailed          = "order.failed"
	TopicOrderCanceled        = "order.canceled"
	TopicSubscriptionExtended = "subscription.extended"
	TopicCodeRedeemed         = "code.redeemed"
)
