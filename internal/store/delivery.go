package store

type WebhookDelivery struct {
    ID             string
    ContractorID   string
    SubscriptionID string
    Event          string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}
