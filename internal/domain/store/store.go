package store

// Store is a pickup location listed in the catalog.
type Store struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Product is a catalog item sold by a store.
type Product struct {
	ID          string  `json:"id"`
	StoreID     string  `json:"storeId"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	WeightGrams float64 `json:"weight"`
	ImageURL    string  `json:"imageUrl"`
}
