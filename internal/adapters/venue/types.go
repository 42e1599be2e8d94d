package venue

// types.go — wire DTOs for the exchange betting API.

// loginResponse from the identity endpoint.
type loginResponse struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// apiError is the venue's structured error body (HTTP 400).
type apiError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorDetails string `json:"errorDetails"`
}

const (
	errInvalidSession = "INVALID_SESSION_INFORMATION"
	errNoSession      = "NO_SESSION"
)

type priceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type runnerBook struct {
	SelectionID     int64   `json:"selectionId"`
	LastPriceTraded float64 `json:"lastPriceTraded"`
	TotalMatched    float64 `json:"totalMatched"`
	Ex              struct {
		AvailableToBack []priceSize `json:"availableToBack"`
		AvailableToLay  []priceSize `json:"availableToLay"`
	} `json:"ex"`
}

type marketBook struct {
	MarketID string       `json:"marketId"`
	Status   string       `json:"status"`
	InPlay   bool         `json:"inplay"`
	Runners  []runnerBook `json:"runners"`
}

type listMarketBookRequest struct {
	MarketIDs       []string `json:"marketIds"`
	PriceProjection struct {
		PriceData []string `json:"priceData"`
	} `json:"priceProjection"`
}

type limitOrder struct {
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	PersistenceType string  `json:"persistenceType"`
}

type placeInstruction struct {
	OrderType   string     `json:"orderType"`
	SelectionID int64      `json:"selectionId"`
	Side        string     `json:"side"`
	LimitOrder  limitOrder `json:"limitOrder"`
}

type placeOrdersRequest struct {
	MarketID     string             `json:"marketId"`
	Instructions []placeInstruction `json:"instructions"`
	CustomerRef  string             `json:"customerRef,omitempty"`
}

type placeInstructionReport struct {
	Status              string  `json:"status"`
	ErrorCode           string  `json:"errorCode"`
	BetID               string  `json:"betId"`
	SizeMatched         float64 `json:"sizeMatched"`
	AveragePriceMatched float64 `json:"averagePriceMatched"`
}

type placeOrdersResponse struct {
	Status             string                   `json:"status"`
	ErrorCode          string                   `json:"errorCode"`
	InstructionReports []placeInstructionReport `json:"instructionReports"`
}

type cancelInstruction struct {
	BetID string `json:"betId"`
}

type cancelOrdersRequest struct {
	MarketID     string              `json:"marketId"`
	Instructions []cancelInstruction `json:"instructions"`
}

type cancelInstructionReport struct {
	Status        string  `json:"status"`
	ErrorCode     string  `json:"errorCode"`
	SizeCancelled float64 `json:"sizeCancelled"`
}

type cancelOrdersResponse struct {
	Status             string                    `json:"status"`
	ErrorCode          string                    `json:"errorCode"`
	InstructionReports []cancelInstructionReport `json:"instructionReports"`
}

type listCurrentOrdersRequest struct {
	BetIDs []string `json:"betIds"`
}

type currentOrder struct {
	BetID               string    `json:"betId"`
	Status              string    `json:"status"` // EXECUTABLE | EXECUTION_COMPLETE | EXPIRED
	Side                string    `json:"side"`
	PriceSize           priceSize `json:"priceSize"`
	SizeMatched         float64   `json:"sizeMatched"`
	SizeRemaining       float64   `json:"sizeRemaining"`
	AveragePriceMatched float64   `json:"averagePriceMatched"`
}

type listCurrentOrdersResponse struct {
	CurrentOrders []currentOrder `json:"currentOrders"`
	MoreAvailable bool           `json:"moreAvailable"`
}

type listClearedOrdersRequest struct {
	BetIDs []string `json:"betIds"`
}

type clearedOrder struct {
	BetID        string  `json:"betId"`
	SizeSettled  float64 `json:"sizeSettled"`
	PriceMatched float64 `json:"priceMatched"`
}

type listClearedOrdersResponse struct {
	ClearedOrders []clearedOrder `json:"clearedOrders"`
	MoreAvailable bool           `json:"moreAvailable"`
}
