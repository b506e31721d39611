package orders

const (
	TopicBillLifecycle = "pos.bill.lifecycle"
	TopicStockLow      = "pos.stock.low"
)

// Partition key = order id, so every event of one bill stays in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
