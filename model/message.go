package model

import "time"

// OrderMessage é o payload que trafega nas filas entre o gate e o worker.
// Nothing is durable about it: the order row only exists once the
// settlement worker writes it.
type OrderMessage struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
	Timestamp int64 `json:"timestamp"`
}

// NewOrderMessage cria a mensagem de um claim recém-aceito.
func NewOrderMessage(userID, productID int64) OrderMessage {
	return OrderMessage{
		UserID:    userID,
		ProductID: productID,
		Timestamp: time.Now().UnixMilli(),
	}
}
