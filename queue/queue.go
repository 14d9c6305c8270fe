package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/storewave/flash-sale-service/model"
)

// reclaimBatch limita quantos envelopes expirados uma varredura move de
// volta por vez.
const reclaimBatch = 100

// defaultVisibilityTimeout é o prazo que um consumidor tem para Ack ou
// Retry antes de o envelope voltar a ficar visível.
const defaultVisibilityTimeout = 30 * time.Second

// Envelope embrulha uma OrderMessage com o ciclo de vida explícito da
// entrega. Attempts conta entregas que falharam; o broker não guarda
// nenhum contador próprio, então o mesmo envelope funciona em qualquer
// transporte.
type Envelope struct {
	ID         string             `json:"id"`
	Attempts   int                `json:"attempts"`
	EnqueuedAt int64              `json:"enqueued_at"`
	Message    model.OrderMessage `json:"message"`

	// Resolution é a decisão que o consumidor gravou antes de um Retry.
	// Uma reentrega retoma a partir dela em vez de decidir de novo.
	Resolution string `json:"resolution,omitempty"`
}

// Options configura o comportamento de retry de uma fila.
type Options struct {
	// MaxAttempts é o total de entregas antes do roteamento para a
	// dead-letter queue. Zero desabilita o dead-lettering.
	MaxAttempts int

	// RetryDelay é o atraso aplicado a cada reentrega.
	RetryDelay time.Duration

	// DeadLetter é a fila que recebe envelopes com retries esgotados.
	DeadLetter *Queue

	// VisibilityTimeout é o prazo de processamento de uma entrega. Um
	// envelope não reconhecido dentro dele é devolvido pela varredura
	// de Reclaim. Zero usa defaultVisibilityTimeout.
	VisibilityTimeout time.Duration
}

// Queue é um canal de mensagens at-least-once com entrega atrasada sobre
// dois sorted sets do Redis: o ready set (score = instante em que o
// envelope fica visível) e o pending set (score = deadline da entrega em
// andamento). O pop move atomicamente de um para o outro; só o Ack
// remove de vez.
type Queue struct {
	rdb        *redis.Client
	name       string
	key        string
	pendingKey string
	opts       Options
	now        func() time.Time
}

// New cria uma fila nomeada.
func New(rdb *redis.Client, name string, opts Options) *Queue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = defaultVisibilityTimeout
	}
	return &Queue{
		rdb:        rdb,
		name:       name,
		key:        "queue:" + name,
		pendingKey: "queue:" + name + ":pending",
		opts:       opts,
		now:        time.Now,
	}
}

// Name retorna o nome lógico da fila.
func (q *Queue) Name() string {
	return q.name
}

// popScript move o primeiro envelope pronto para o pending set em uma
// única operação atômica, de modo que um worker que morra no meio do
// processamento nunca perde a mensagem.
var popScript = redis.NewScript(`
local msgs = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #msgs == 0 then return false end
redis.call('ZREM', KEYS[1], msgs[1])
redis.call('ZADD', KEYS[2], ARGV[2], msgs[1])
return msgs[1]
`)

// reclaimScript devolve ao ready set os envelopes cujo deadline de
// processamento expirou.
var reclaimScript = redis.NewScript(`
local msgs = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(msgs) do
	redis.call('ZREM', KEYS[2], m)
	redis.call('ZADD', KEYS[1], ARGV[1], m)
end
return #msgs
`)

// Publish enfileira uma mensagem, visível depois de delay.
func (q *Queue) Publish(ctx context.Context, msg model.OrderMessage, delay time.Duration) error {
	env := Envelope{
		ID:         uuid.New().String(),
		EnqueuedAt: q.now().UnixMilli(),
		Message:    msg,
	}
	return q.publish(ctx, env, delay)
}

func (q *Queue) publish(ctx context.Context, env Envelope, delay time.Duration) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	readyAt := float64(q.now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.key, &redis.Z{Score: readyAt, Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", q.name, err)
	}
	return nil
}

// TryReceive tenta retirar um envelope pronto sem bloquear. Retorna
// (nil, nil) quando não há nada visível. O envelope fica parqueado no
// pending set até Ack ou Retry; se nenhum dos dois acontecer dentro do
// visibility timeout, Reclaim o devolve.
func (q *Queue) TryReceive(ctx context.Context) (*Delivery, error) {
	now := q.now()
	deadline := now.Add(q.opts.VisibilityTimeout).UnixMilli()
	payload, err := popScript.Run(ctx, q.rdb, []string{q.key, q.pendingKey}, now.UnixMilli(), deadline).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", q.name, err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope from %s: %w", q.name, err)
	}
	return &Delivery{Envelope: env, payload: []byte(payload), queue: q}, nil
}

// Receive bloqueia até retirar um envelope, com backoff exponencial no
// polling enquanto a fila está vazia. Cancelamento via ctx. Cada passada
// também recolhe entregas cujo deadline expirou.
func (q *Queue) Receive(ctx context.Context) (*Delivery, error) {
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = 50 * time.Millisecond
	poll.MaxInterval = 1 * time.Second

	for {
		if _, err := q.Reclaim(ctx); err != nil {
			return nil, err
		}

		delivery, err := q.TryReceive(ctx)
		if err != nil {
			return nil, err
		}
		if delivery != nil {
			return delivery, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll.NextBackOff()):
		}
	}
}

// Reclaim devolve ao ready set os envelopes não reconhecidos dentro do
// visibility timeout e retorna quantos foram devolvidos. O contador de
// tentativas não muda aqui: a reentrega que falhar de novo passa pelo
// Retry normal.
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	moved, err := reclaimScript.Run(ctx, q.rdb, []string{q.key, q.pendingKey}, q.now().UnixMilli(), reclaimBatch).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to reclaim on %s: %w", q.name, err)
	}
	return moved, nil
}

// Delivery é uma entrega em andamento: {delivered, redelivering(n),
// dead-lettered} conforme o consumidor decide Ack ou Retry.
type Delivery struct {
	Envelope Envelope
	payload  []byte
	queue    *Queue
}

// Message retorna o payload de negócio.
func (d *Delivery) Message() model.OrderMessage {
	return d.Envelope.Message
}

// Attempt retorna o número desta entrega (1 para a primeira).
func (d *Delivery) Attempt() int {
	return d.Envelope.Attempts + 1
}

// Ack marca a entrega como processada, removendo-a do pending set. Se
// falhar, o envelope volta via Reclaim e a entrega se repete; o
// consumidor precisa ser idempotente de qualquer forma.
func (d *Delivery) Ack(ctx context.Context) error {
	if err := d.queue.rdb.ZRem(ctx, d.queue.pendingKey, d.payload).Err(); err != nil {
		return fmt.Errorf("failed to ack on %s: %w", d.queue.name, err)
	}
	return nil
}

// Retry devolve o envelope para reentrega. Quando o total de tentativas
// alcança MaxAttempts, o envelope é roteado para a dead-letter queue e o
// retorno é true. A republicação acontece antes da remoção do pending
// set: se ela falhar, o envelope original continua parqueado e o
// Reclaim o devolve depois do visibility timeout — nunca some das duas
// filas ao mesmo tempo.
func (d *Delivery) Retry(ctx context.Context) (bool, error) {
	env := d.Envelope
	env.Attempts++

	opts := d.queue.opts
	deadLettered := opts.DeadLetter != nil && opts.MaxAttempts > 0 && env.Attempts >= opts.MaxAttempts

	if deadLettered {
		if err := opts.DeadLetter.publish(ctx, env, 0); err != nil {
			return false, fmt.Errorf("failed to dead-letter from %s: %w", d.queue.name, err)
		}
	} else {
		if err := d.queue.publish(ctx, env, opts.RetryDelay); err != nil {
			return false, fmt.Errorf("failed to redeliver on %s: %w", d.queue.name, err)
		}
	}

	if err := d.queue.rdb.ZRem(ctx, d.queue.pendingKey, d.payload).Err(); err != nil {
		// The replacement is already published; a duplicate reclaimed
		// later is the at-least-once trade-off, not a loss.
		return deadLettered, fmt.Errorf("failed to clear pending on %s: %w", d.queue.name, err)
	}
	return deadLettered, nil
}
