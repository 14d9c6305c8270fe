package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Chaves do cache de reserva. O contador de estoque é a única fonte de
// verdade DURANTE a janela de claim; depois de liquidado, quem manda é o
// banco (e a reidratação reescreve tudo daqui).
const RescueCounterKey = "telemetry:dlq_rescues"

// StockKey é o contador de unidades disponíveis para claim.
func StockKey(productID int64) string {
	return fmt.Sprintf("inventory:%d:stock", productID)
}

// FlashFlagKey é a flag de roteamento que evita um lookup no banco no
// caminho quente.
func FlashFlagKey(productID int64) string {
	return fmt.Sprintf("product:%d:is_flash", productID)
}

// Resultados possíveis de ClaimOne.
const (
	ClaimUnconfigured = -1 // counter missing: misconfiguration, not sold out
	ClaimSoldOut      = 0
	ClaimOK           = 1
)

// claimScript faz check-and-decrement em uma única viagem. Fazer GET e
// DECRBY em duas viagens é uma corrida que permite oversell.
var claimScript = redis.NewScript(`
local stock = tonumber(redis.call('GET', KEYS[1]))
if stock == nil then return -1 end
if stock >= tonumber(ARGV[1]) then
    redis.call('DECRBY', KEYS[1], ARGV[1])
    return 1
else
    return 0
end
`)

// NewClient cria o cliente Redis do processo.
func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

// Inventory encapsula todas as operações do cache de reserva.
type Inventory struct {
	rdb *redis.Client
}

// NewInventory cria uma nova instância de Inventory.
func NewInventory(rdb *redis.Client) *Inventory {
	return &Inventory{
		rdb: rdb,
	}
}

// IsFlashSale consulta a flag de roteamento. Flag ausente significa
// produto normal.
func (i *Inventory) IsFlashSale(ctx context.Context, productID int64) (bool, error) {
	value, err := i.rdb.Get(ctx, FlashFlagKey(productID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read flash flag: %w", err)
	}
	return value == "true", nil
}

// ClaimOne tenta reservar uma unidade com check-and-decrement atômico.
// Retorna ClaimOK, ClaimSoldOut ou ClaimUnconfigured.
func (i *Inventory) ClaimOne(ctx context.Context, productID int64) (int, error) {
	result, err := claimScript.Run(ctx, i.rdb, []string{StockKey(productID)}, 1).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to run claim script: %w", err)
	}
	return result, nil
}

// Restore devolve uma unidade ao pool (compensação). Sempre uma única
// operação atômica, nunca read-modify-write.
func (i *Inventory) Restore(ctx context.Context, productID int64) error {
	if err := i.rdb.Incr(ctx, StockKey(productID)).Err(); err != nil {
		return fmt.Errorf("failed to restore reservation: %w", err)
	}
	return nil
}

// WriteFlashEntry sobrescreve contador e flag de um produto flash em um
// único pipeline (usado pela reidratação; nunca lê o valor atual).
func (i *Inventory) WriteFlashEntry(ctx context.Context, productID int64, stock int) error {
	pipe := i.rdb.Pipeline()
	pipe.Set(ctx, StockKey(productID), stock, 0)
	pipe.Set(ctx, FlashFlagKey(productID), "true", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write flash entry: %w", err)
	}
	return nil
}

// Stock lê o contador ao vivo. O segundo retorno indica se a chave existe.
func (i *Inventory) Stock(ctx context.Context, productID int64) (int, bool, error) {
	value, err := i.rdb.Get(ctx, StockKey(productID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// IncrRescues incrementa o contador de resgates do dead-letter handler.
func (i *Inventory) IncrRescues(ctx context.Context) (int64, error) {
	return i.rdb.Incr(ctx, RescueCounterKey).Result()
}

// Snapshot coleta, em um único pipeline, o contador de resgates e o
// estoque ao vivo de cada produto flash informado (telemetria).
func (i *Inventory) Snapshot(ctx context.Context, flashProductIDs []int64) (map[int64]int, int64, error) {
	pipe := i.rdb.Pipeline()
	rescuesCmd := pipe.Get(ctx, RescueCounterKey)
	stockCmds := make(map[int64]*redis.StringCmd, len(flashProductIDs))
	for _, id := range flashProductIDs {
		stockCmds[id] = pipe.Get(ctx, StockKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, 0, fmt.Errorf("failed to read telemetry snapshot: %w", err)
	}

	rescues, err := rescuesCmd.Int64()
	if err == redis.Nil {
		rescues = 0
	} else if err != nil {
		return nil, 0, err
	}

	stocks := make(map[int64]int, len(stockCmds))
	for id, cmd := range stockCmds {
		value, err := cmd.Int()
		if err == redis.Nil {
			continue // unconfigured counter: omit rather than report zero
		}
		if err != nil {
			return nil, 0, err
		}
		stocks[id] = value
	}
	return stocks, rescues, nil
}
