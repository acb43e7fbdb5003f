package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/engine"
)

// Contract methods understood by the chain ingestion endpoints.
const (
	MethodPlaceBet     = "place-bet"
	MethodCreateMarket = "create-market"
)

// ChainhookPayload is the body delivered by a chainhook predicate.
type ChainhookPayload struct {
	Apply    []ChainhookBlock `json:"apply"`
	Rollback []ChainhookBlock `json:"rollback"`
}

// ChainhookBlock is one block of applied transactions.
type ChainhookBlock struct {
	BlockIdentifier struct {
		Index int64  `json:"index"`
		Hash  string `json:"hash"`
	} `json:"block_identifier"`
	Transactions []ChainhookTransaction `json:"transactions"`
}

// ChainhookTransaction is a contract call observed on chain.
type ChainhookTransaction struct {
	TransactionIdentifier struct {
		Hash string `json:"hash"`
	} `json:"transaction_identifier"`
	Metadata struct {
		Sender string `json:"sender"`
		Kind   struct {
			Data struct {
				ContractIdentifier string   `json:"contract_identifier"`
				Method             string   `json:"method"`
				Args               []string `json:"args"`
			} `json:"data"`
		} `json:"kind"`
	} `json:"metadata"`
}

func (tx *ChainhookTransaction) method() string { return tx.Metadata.Kind.Data.Method }
func (tx *ChainhookTransaction) args() []string { return tx.Metadata.Kind.Data.Args }

// ChainhookResult summarises one delivered payload. Rollbacks counts the
// transactions of rolled back blocks; those are never applied or undone.
type ChainhookResult struct {
	Blocks    int
	Processed int
	Skipped   int
	Failed    int
	Rollbacks int
}

// ChainhookService turns contract calls into engine requests. Every
// transaction is handled on its own; one failing call never rejects the
// rest of the payload. Deliveries are at least once, so a transaction hash
// is applied at most once per market.
type ChainhookService struct {
	dispatcher *Dispatcher
	accounts   *AccountService
	markets    *MarketService
	logger     *zap.Logger
}

// NewChainhookService creates a new ChainhookService.
func NewChainhookService(dispatcher *Dispatcher, accounts *AccountService, markets *MarketService, logger *zap.Logger) *ChainhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainhookService{
		dispatcher: dispatcher,
		accounts:   accounts,
		markets:    markets,
		logger:     logger,
	}
}

// PlaceBet describes a place-bet contract call.
type PlaceBet struct {
	TxHash   string
	Sender   string
	MarketID string
	Side     domain.Side
	Shares   int64
	Price    int64 // cents
}

// ParsePlaceBet extracts a bet from a contract call with the arguments
// market id, side, shares and price. The price is read as cents when it is
// an integer and as a dollar amount when it has a decimal point.
func ParsePlaceBet(tx ChainhookTransaction) (*PlaceBet, error) {
	args := tx.args()
	if len(args) < 4 {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("place-bet expects 4 arguments, got %d", len(args)),
		}
	}
	shares, err := strconv.ParseInt(strings.TrimSpace(args[2]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: shares %q is not an integer", domain.ErrInvalidQuantity, args[2])
	}
	price, err := parseCents(args[3])
	if err != nil {
		return nil, err
	}
	return &PlaceBet{
		TxHash:   tx.TransactionIdentifier.Hash,
		Sender:   tx.Metadata.Sender,
		MarketID: strings.TrimSpace(args[0]),
		Side:     domain.Side(strings.ToUpper(strings.TrimSpace(args[1]))),
		Shares:   shares,
		Price:    price,
	}, nil
}

func parseCents(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, ".") {
		p, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: price %q is not a number", domain.ErrInvalidPrice, raw)
		}
		return p, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: price %q is not a number", domain.ErrInvalidPrice, raw)
	}
	cents := f * float64(domain.UnitCents)
	if math.Abs(cents-math.Round(cents)) > 1e-6 {
		return 0, fmt.Errorf("%w: price %q is finer than one cent", domain.ErrInvalidPrice, raw)
	}
	return int64(math.Round(cents)), nil
}

// CreateMarket describes a create-market contract call.
type CreateMarket struct {
	TxHash  string
	Creator string
	Request CreateMarketRequest
}

// ParseCreateMarket extracts a market from a contract call with the
// arguments question, description, category, end date (unix seconds) and
// settlement source. A trailing initial liquidity argument is accepted and
// ignored since liquidity comes from resting orders.
func ParseCreateMarket(tx ChainhookTransaction) (*CreateMarket, error) {
	args := tx.args()
	if len(args) < 4 {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("create-market expects at least 4 arguments, got %d", len(args)),
		}
	}
	endUnix, err := strconv.ParseInt(strings.TrimSpace(args[3]), 10, 64)
	if err != nil {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("end date %q is not a unix timestamp", args[3]),
		}
	}

	req := CreateMarketRequest{
		MarketID:    strings.TrimPrefix(tx.TransactionIdentifier.Hash, "0x"),
		Question:    args[0],
		Description: args[1],
		Category:    args[2],
		EndTime:     time.Unix(endUnix, 0).UTC(),
	}
	if len(args) > 4 {
		req.ResolutionSource = args[4]
	}
	if domain.ValidateMarketID(req.MarketID) != nil {
		req.MarketID = ""
	}
	return &CreateMarket{
		TxHash:  tx.TransactionIdentifier.Hash,
		Creator: tx.Metadata.Sender,
		Request: req,
	}, nil
}

// ProcessBets handles every place-bet call in the payload. The bet's cost
// is deposited for the sender and a limit order is submitted at the bet's
// price. A deposit stays credited when the order is rejected. A redelivered
// transaction is skipped.
func (s *ChainhookService) ProcessBets(ctx context.Context, payload ChainhookPayload) ChainhookResult {
	res := ChainhookResult{Blocks: len(payload.Apply)}
	s.noteRollbacks(payload, &res)
	for _, block := range payload.Apply {
		for _, tx := range block.Transactions {
			if tx.method() != MethodPlaceBet {
				res.Skipped++
				continue
			}
			log := s.logger.With(
				zap.String("tx_hash", tx.TransactionIdentifier.Hash),
				zap.Int64("block_height", block.BlockIdentifier.Index),
			)
			err := s.placeBet(ctx, tx, log)
			switch {
			case errors.Is(err, domain.ErrAlreadyApplied):
				log.Info("bet already applied")
				res.Skipped++
				continue
			case err != nil:
				log.Warn("bet rejected", zap.Error(err))
				res.Failed++
				continue
			}
			res.Processed++
		}
	}
	return res
}

func (s *ChainhookService) placeBet(ctx context.Context, tx ChainhookTransaction, log *zap.Logger) error {
	bet, err := ParsePlaceBet(tx)
	if err != nil {
		return err
	}
	req := domain.SubmitRequest{
		MarketID:  bet.MarketID,
		AccountID: bet.Sender,
		Side:      bet.Side,
		Type:      domain.OrderTypeLimit,
		Price:     bet.Price,
		Quantity:  bet.Shares,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if bet.TxHash == "" {
		return &domain.ValidationError{Message: "transaction hash is required"}
	}
	if _, err := s.accounts.DepositOnce(bet.MarketID, bet.TxHash, bet.Sender, bet.Price*bet.Shares); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	out, err := s.dispatcher.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if sub, ok := out.(*engine.SubmitResult); ok {
		log.Info("bet placed",
			zap.String("order_id", sub.Order.OrderID),
			zap.String("status", string(sub.Order.Status)),
			zap.Int("fills", len(sub.Fills)),
		)
	}
	return nil
}

// ProcessMarkets handles every create-market call in the payload.
func (s *ChainhookService) ProcessMarkets(ctx context.Context, payload ChainhookPayload) ChainhookResult {
	res := ChainhookResult{Blocks: len(payload.Apply)}
	s.noteRollbacks(payload, &res)
	for _, block := range payload.Apply {
		for _, tx := range block.Transactions {
			if tx.method() != MethodCreateMarket {
				res.Skipped++
				continue
			}
			log := s.logger.With(
				zap.String("tx_hash", tx.TransactionIdentifier.Hash),
				zap.Int64("block_height", block.BlockIdentifier.Index),
			)
			cm, err := ParseCreateMarket(tx)
			if err != nil {
				log.Warn("market creation rejected", zap.Error(err))
				res.Failed++
				continue
			}
			mkt, err := s.markets.Create(ctx, cm.Request)
			if errors.Is(err, domain.ErrMarketAlreadyExists) && cm.Request.MarketID != "" {
				log.Info("market already created", zap.String("market_id", cm.Request.MarketID))
				res.Skipped++
				continue
			}
			if err != nil {
				log.Warn("market creation rejected", zap.Error(err))
				res.Failed++
				continue
			}
			log.Info("market created",
				zap.String("market_id", mkt.MarketID),
				zap.String("creator", cm.Creator),
				zap.Time("end_time", mkt.EndTime),
			)
			res.Processed++
		}
	}
	return res
}

// noteRollbacks counts and logs the transactions of rolled back blocks.
// Fills cannot be unwound once matched, so reorgs need manual review.
func (s *ChainhookService) noteRollbacks(payload ChainhookPayload, res *ChainhookResult) {
	for _, block := range payload.Rollback {
		for _, tx := range block.Transactions {
			res.Rollbacks++
			s.logger.Warn("rolled back transaction ignored",
				zap.String("tx_hash", tx.TransactionIdentifier.Hash),
				zap.String("method", tx.method()),
				zap.Int64("block_height", block.BlockIdentifier.Index),
			)
		}
	}
}
