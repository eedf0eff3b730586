package postgres

import (
	"context"
	"fmt"
	"time"

	"restaurant-sync/pkg/models"

	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, order_id, amount, payment_method, payment_status, payment_reference,
	gateway_name, gateway_order_id, gateway_payment_id, refund_amount, refund_reason,
	version, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.PaymentMethod, &p.PaymentStatus, &p.PaymentReference,
		&p.GatewayName, &p.GatewayOrderID, &p.GatewayPaymentID, &p.RefundAmount, &p.RefundReason,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p.Version == 0 {
		p.Version = 1
	}
	_, err := s.dbPool.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.OrderID, p.Amount, p.PaymentMethod, p.PaymentStatus, p.PaymentReference,
		p.GatewayName, p.GatewayOrderID, p.GatewayPaymentID, p.RefundAmount, p.RefundReason,
		p.Version, p.CreatedAt, p.UpdatedAt)
	return mapErr(err, "insert payment for order "+p.OrderID)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	p, err := scanPayment(s.dbPool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "payment "+id)
	}
	return p, nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	p, err := scanPayment(s.dbPool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, mapErr(err, "payment for order "+orderID)
	}
	return p, nil
}

func (s *Store) GetPaymentByGateway(ctx context.Context, gatewayName, gatewayOrderID string) (*models.Payment, error) {
	p, err := scanPayment(s.dbPool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_name = $1 AND gateway_order_id = $2`,
		gatewayName, gatewayOrderID))
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("payment %s/%s", gatewayName, gatewayOrderID))
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE payments SET
				payment_status = $3, payment_reference = $4, gateway_order_id = $5,
				gateway_payment_id = $6, refund_amount = $7, refund_reason = $8,
				updated_at = $9, version = version + 1
			WHERE id = $1 AND version = $2`,
			p.ID, p.Version, p.PaymentStatus, p.PaymentReference, p.GatewayOrderID,
			p.GatewayPaymentID, p.RefundAmount, p.RefundReason, p.UpdatedAt)
		if err != nil {
			return mapErr(err, "update payment "+p.ID)
		}
		if tag.RowsAffected() == 0 {
			return s.casMiss(ctx, tx, "payments", p.ID, "payment "+p.ID)
		}
		p.Version++
		return nil
	})
}

// Integrations and webhook logs

func (s *Store) GetIntegration(ctx context.Context, platform string) (*models.Integration, error) {
	var i models.Integration
	err := s.dbPool.QueryRow(ctx, `
		SELECT id, platform, active, branch_id, default_user_id
		FROM integrations WHERE platform = $1`, platform).
		Scan(&i.ID, &i.Platform, &i.Active, &i.BranchID, &i.DefaultUserID)
	if err != nil {
		return nil, mapErr(err, "integration "+platform)
	}
	return &i, nil
}

func (s *Store) SaveIntegration(ctx context.Context, i *models.Integration) error {
	_, err := s.dbPool.Exec(ctx, `
		INSERT INTO integrations (id, platform, active, branch_id, default_user_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform) DO UPDATE SET
			active = EXCLUDED.active,
			branch_id = EXCLUDED.branch_id,
			default_user_id = EXCLUDED.default_user_id`,
		i.ID, i.Platform, i.Active, i.BranchID, i.DefaultUserID)
	return mapErr(err, "save integration "+i.Platform)
}

func (s *Store) CreateWebhookLog(ctx context.Context, l *models.WebhookLog) error {
	_, err := s.dbPool.Exec(ctx, `
		INSERT INTO webhook_logs (id, integration_id, event, payload, status, error, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.IntegrationID, l.Event, l.Payload, l.Status, l.Error, l.CreatedAt, l.ProcessedAt)
	return mapErr(err, "insert webhook log "+l.ID)
}

func (s *Store) MarkWebhookLog(ctx context.Context, id string, status models.WebhookStatus, errMsg string, at time.Time) error {
	tag, err := s.dbPool.Exec(ctx, `
		UPDATE webhook_logs SET status = $2, error = $3, processed_at = $4 WHERE id = $1`,
		id, status, errMsg, at)
	if err != nil {
		return mapErr(err, "mark webhook log "+id)
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "webhook log "+id)
	}
	return nil
}

func (s *Store) GetWebhookLog(ctx context.Context, id string) (*models.WebhookLog, error) {
	var l models.WebhookLog
	err := s.dbPool.QueryRow(ctx, `
		SELECT id, integration_id, event, payload, status, error, created_at, processed_at
		FROM webhook_logs WHERE id = $1`, id).
		Scan(&l.ID, &l.IntegrationID, &l.Event, &l.Payload, &l.Status, &l.Error, &l.CreatedAt, &l.ProcessedAt)
	if err != nil {
		return nil, mapErr(err, "webhook log "+id)
	}
	return &l, nil
}
