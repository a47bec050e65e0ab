package model

type Network string

const (
	NetworkEVM    Network = "evm"
	NetworkSolana Network = "solana"
)

type User struct {
	ID      string `db:"id"`
	Account string `db:"account"`
	Status  string `db:"status"`
}

type Wallet struct {
	ID           string  `db:"id"`
	UserID       string  `db:"user_id"`
	Address      string  `db:"address"`
	EncryptedKey string  `db:"encrypted_key"`
	Network      Network `db:"network"`
	Name         string  `db:"name"`
}

// OrderContext is a claimed order together with its owner and wallet.
type OrderContext struct {
	Order  *Order
	User   *User
	Wallet *Wallet
}
