package storage

import (
	"database/sql"

	_ "github.com/lib/pq"
)

type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(dsn string) (*PostgresLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresLog{db: db}, nil
}

func (p *PostgresLog) SaveDelivery(d *Delivery) error {
	_, err := p.db.Exec(`INSERT INTO deliveries(order_id, order_code, fee, tip, total, delivered_at) VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id) DO NOTHING`,
		d.OrderID, d.Code, d.Fee, d.Tip, d.Total, d.DeliveredAt)
	return err
}

func (p *PostgresLog) ListDeliveries(limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(`SELECT order_id, order_code, fee, tip, total, delivered_at FROM deliveries ORDER BY delivered_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.OrderID, &d.Code, &d.Fee, &d.Tip, &d.Total, &d.DeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (p *PostgresLog) Close() error {
	return p.db.Close()
}
