package repository

// Bus subjects shared by publishers and consumers.
const (
	TopicPurchaseGranted = "purchases.granted"
	TopicAccountDeleted  = "accounts.deleted"
	TopicVerifyCommand   = "commands.verify"
)

type MessageBus interface {
	Publish(topic string, data []byte) error
}
