package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/storewave/flash-sale-service/model"
)

// Authorizer é o colaborador externo de autorização de pagamento.
// Um retorno (false, nil) é uma recusa de negócio; um erro é falha de
// processamento e será reentregue pela fila.
type Authorizer interface {
	Authorize(ctx context.Context, msg model.OrderMessage) (bool, error)
}

// HTTPAuthorizer chama o serviço de autorização via HTTP.
type HTTPAuthorizer struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPAuthorizer cria uma nova instância de HTTPAuthorizer.
func NewHTTPAuthorizer(baseURL string, timeout time.Duration) *HTTPAuthorizer {
	return &HTTPAuthorizer{
		client:  resty.New().SetTimeout(timeout),
		baseURL: baseURL,
	}
}

type authorizeResponse struct {
	Approved bool `json:"approved"`
}

// Authorize envia o pedido para o autorizador. Timeouts e respostas 5xx
// viram erro (retry via fila); um "approved": false é recusa definitiva.
func (a *HTTPAuthorizer) Authorize(ctx context.Context, msg model.OrderMessage) (bool, error) {
	var result authorizeResponse

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&result).
		Post(a.baseURL + "/authorize")
	if err != nil {
		return false, fmt.Errorf("authorization call failed: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("authorizer returned %s", resp.Status())
	}

	return result.Approved, nil
}

// Simulator aprova pagamentos com probabilidade fixa. É o default quando
// nenhum autorizador real está configurado.
type Simulator struct {
	successRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator cria um simulador com a taxa de sucesso dada (0..1).
func NewSimulator(successRate float64) *Simulator {
	return &Simulator{
		successRate: successRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) Authorize(_ context.Context, _ model.OrderMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.successRate, nil
}
