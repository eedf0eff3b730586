package postgres

import (
	"context"
	"fmt"
	"time"

	"restaurant-sync/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const orderColumns = `
	o.id, o.number, o.status, o.type, o.table_id, o.customer_id, o.branch_id, o.created_by,
	o.total_amount, o.tax, o.discount, o.grand_total, o.payment_status,
	o.external_order_id, o.external_platform, o.items, o.version,
	o.created_at, o.updated_at, o.updated_by,
	d.customer_name, d.customer_phone, d.address, d.delivery_status,
	d.estimated_time, d.actual_time, d.delivery_fee`

const orderFrom = `FROM orders o LEFT JOIN delivery_info d ON d.order_id = o.id`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o                                models.Order
		dName, dPhone, dAddress, dStatus *string
		dEstimated, dActual              *time.Time
		dFee                             decimal.NullDecimal
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.Status, &o.Type, &o.TableID, &o.CustomerID, &o.BranchID, &o.CreatedBy,
		&o.TotalAmount, &o.Tax, &o.Discount, &o.GrandTotal, &o.PaymentStatus,
		&o.ExternalOrderID, &o.ExternalPlatform, &o.Items, &o.Version,
		&o.CreatedAt, &o.UpdatedAt, &o.UpdatedBy,
		&dName, &dPhone, &dAddress, &dStatus, &dEstimated, &dActual, &dFee,
	)
	if err != nil {
		return nil, err
	}
	if dStatus != nil {
		o.Delivery = &models.DeliveryInfo{
			CustomerName:   deref(dName),
			CustomerPhone:  deref(dPhone),
			Address:        deref(dAddress),
			DeliveryStatus: models.DeliveryStatus(*dStatus),
			EstimatedTime:  dEstimated,
			ActualTime:     dActual,
			DeliveryFee:    dFee.Decimal,
		}
	}
	return &o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, number, status, type, table_id, customer_id, branch_id, created_by,
				total_amount, tax, discount, grand_total, payment_status,
				external_order_id, external_platform, items, version,
				created_at, updated_at, updated_by
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
			o.ID, o.OrderNumber, o.Status, o.Type, o.TableID, o.CustomerID, o.BranchID, o.CreatedBy,
			o.TotalAmount, o.Tax, o.Discount, o.GrandTotal, o.PaymentStatus,
			o.ExternalOrderID, o.ExternalPlatform, o.Items, o.Version,
			o.CreatedAt, o.UpdatedAt, o.UpdatedBy,
		)
		if err != nil {
			return mapErr(err, "insert order "+o.ID)
		}
		return upsertDelivery(ctx, tx, o)
	})
}

func upsertDelivery(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	if o.Delivery == nil {
		return nil
	}
	d := o.Delivery
	_, err := tx.Exec(ctx, `
		INSERT INTO delivery_info (
			order_id, customer_name, customer_phone, address, delivery_status,
			estimated_time, actual_time, delivery_fee
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (order_id) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			customer_phone = EXCLUDED.customer_phone,
			address = EXCLUDED.address,
			delivery_status = EXCLUDED.delivery_status,
			estimated_time = EXCLUDED.estimated_time,
			actual_time = EXCLUDED.actual_time,
			delivery_fee = EXCLUDED.delivery_fee`,
		o.ID, d.CustomerName, d.CustomerPhone, d.Address, d.DeliveryStatus,
		d.EstimatedTime, d.ActualTime, d.DeliveryFee,
	)
	return mapErr(err, "upsert delivery info "+o.ID)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.dbPool.QueryRow(ctx, `SELECT `+orderColumns+` `+orderFrom+` WHERE o.id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "order "+id)
	}
	return o, nil
}

func (s *Store) GetOrderByExternal(ctx context.Context, platform, externalID string) (*models.Order, error) {
	o, err := scanOrder(s.dbPool.QueryRow(ctx,
		`SELECT `+orderColumns+` `+orderFrom+` WHERE o.external_platform = $1 AND o.external_order_id = $2`,
		platform, externalID))
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("external order %s/%s", platform, externalID))
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o *models.Order) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET
				status = $3, table_id = $4, payment_status = $5,
				updated_at = $6, updated_by = $7, version = version + 1
			WHERE id = $1 AND version = $2`,
			o.ID, o.Version, o.Status, o.TableID, o.PaymentStatus, o.UpdatedAt, o.UpdatedBy,
		)
		if err != nil {
			return mapErr(err, "update order "+o.ID)
		}
		if tag.RowsAffected() == 0 {
			return s.casMiss(ctx, tx, "orders", o.ID, "order "+o.ID)
		}
		if err := upsertDelivery(ctx, tx, o); err != nil {
			return err
		}
		o.Version++
		return nil
	})
}

func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	rows, err := s.dbPool.Query(ctx,
		`SELECT `+orderColumns+` `+orderFrom+` ORDER BY o.created_at DESC, o.number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr(err, "list orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr(err, "scan order")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// NextOrderNumber generates ORD_YYYYMMDD_NNN from a per-day counter row.
func (s *Store) NextOrderNumber(ctx context.Context, day time.Time) (string, error) {
	d := day.UTC().Format("20060102")
	var seq int
	err := s.dbPool.QueryRow(ctx, `
		INSERT INTO order_number_seq (day, seq) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = order_number_seq.seq + 1
		RETURNING seq`, d).Scan(&seq)
	if err != nil {
		return "", mapErr(err, "generate order number")
	}
	return fmt.Sprintf("ORD_%s_%03d", d, seq), nil
}

func (s *Store) AppendStatusLog(ctx context.Context, e models.OrderStatusLog) error {
	_, err := s.dbPool.Exec(ctx, `
		INSERT INTO order_status_log (order_id, from_status, to_status, source, changed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.OrderID, e.From, e.To, e.Source, e.ChangedAt)
	return mapErr(err, "log order status "+e.OrderID)
}

func (s *Store) ListStatusLog(ctx context.Context, orderID string) ([]models.OrderStatusLog, error) {
	rows, err := s.dbPool.Query(ctx, `
		SELECT id, order_id, from_status, to_status, source, changed_at
		FROM order_status_log WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, mapErr(err, "order history "+orderID)
	}
	defer rows.Close()

	var out []models.OrderStatusLog
	for rows.Next() {
		var e models.OrderStatusLog
		if err := rows.Scan(&e.ID, &e.OrderID, &e.From, &e.To, &e.Source, &e.ChangedAt); err != nil {
			return nil, mapErr(err, "scan order history")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
