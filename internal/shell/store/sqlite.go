package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/lnlab/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Open database connection
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// One connection: keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateNetwork(ctx context.Context, network *domain.Network) error {
	return createNetwork(ctx, s.db, network)
}

func (s *SQLiteStore) GetNetwork(ctx context.Context, name string) (*domain.Network, error) {
	return getNetwork(ctx, s.db, name)
}

func (s *SQLiteStore) ListNetworks(ctx context.Context) ([]domain.Network, error) {
	return listNetworks(ctx, s.db)
}

func (s *SQLiteStore) UpdateNetwork(ctx context.Context, network *domain.Network) error {
	return updateNetwork(ctx, s.db, network)
}

func (s *SQLiteStore) DeleteNetwork(ctx context.Context, name string) error {
	return deleteNetwork(ctx, s.db, name)
}

func (s *SQLiteStore) ExportNetwork(ctx context.Context, name string) ([]byte, error) {
	return exportNetwork(ctx, s.db, name)
}

// CreateNode inserts the node and its reservations atomically.
func (s *SQLiteStore) CreateNode(ctx context.Context, node *domain.Node) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.CreateNode(ctx, node)
	})
}

func (s *SQLiteStore) GetNode(ctx context.Context, network, name string) (*domain.Node, error) {
	return getNode(ctx, s.db, network, name)
}

func (s *SQLiteStore) UpdateNode(ctx context.Context, node *domain.Node) error {
	return updateNode(ctx, s.db, node)
}

// DeleteNode removes the node and its reservations atomically.
func (s *SQLiteStore) DeleteNode(ctx context.Context, network, name string) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.DeleteNode(ctx, network, name)
	})
}

func (s *SQLiteStore) ListReservedPorts(ctx context.Context) ([]int, error) {
	return listReservedPorts(ctx, s.db)
}

func (s *SQLiteStore) ListNetworkReservations(ctx context.Context, network string) ([]int, error) {
	return listNetworkReservations(ctx, s.db, network)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateNetwork(ctx context.Context, network *domain.Network) error {
	return createNetwork(ctx, s.tx, network)
}

func (s *txSQLiteStore) GetNetwork(ctx context.Context, name string) (*domain.Network, error) {
	return getNetwork(ctx, s.tx, name)
}

func (s *txSQLiteStore) ListNetworks(ctx context.Context) ([]domain.Network, error) {
	return listNetworks(ctx, s.tx)
}

func (s *txSQLiteStore) UpdateNetwork(ctx context.Context, network *domain.Network) error {
	return updateNetwork(ctx, s.tx, network)
}

func (s *txSQLiteStore) DeleteNetwork(ctx context.Context, name string) error {
	return deleteNetwork(ctx, s.tx, name)
}

func (s *txSQLiteStore) ExportNetwork(ctx context.Context, name string) ([]byte, error) {
	return exportNetwork(ctx, s.tx, name)
}

func (s *txSQLiteStore) CreateNode(ctx context.Context, node *domain.Node) error {
	return createNode(ctx, s.tx, node)
}

func (s *txSQLiteStore) GetNode(ctx context.Context, network, name string) (*domain.Node, error) {
	return getNode(ctx, s.tx, network, name)
}

func (s *txSQLiteStore) UpdateNode(ctx context.Context, node *domain.Node) error {
	return updateNode(ctx, s.tx, node)
}

func (s *txSQLiteStore) DeleteNode(ctx context.Context, network, name string) error {
	return deleteNode(ctx, s.tx, network, name)
}

func (s *txSQLiteStore) ListReservedPorts(ctx context.Context) ([]int, error) {
	return listReservedPorts(ctx, s.tx)
}

func (s *txSQLiteStore) ListNetworkReservations(ctx context.Context, network string) ([]int, error) {
	return listNetworkReservations(ctx, s.tx, network)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for transaction store
	return nil
}

// =============================================================================
// Network Operations
// =============================================================================

// networkRow represents a network row in the database.
type networkRow struct {
	ID              string `db:"id"`
	Name            string `db:"name"`
	DockerNetworkID string `db:"docker_network_id"`
	AliasPrefix     string `db:"alias_prefix"`
	Images          string `db:"images"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
}

func createNetwork(ctx context.Context, exec executor, network *domain.Network) error {
	imagesJSON, err := json.Marshal(network.Images)
	if err != nil {
		return NewStoreError("CreateNetwork", "network", network.Name, "failed to serialize images", ErrInvalidData)
	}

	query := `
		INSERT INTO networks (
			id, name, docker_network_id, alias_prefix, images, created_at, updated_at
		) VALUES (
			:id, :name, :docker_network_id, :alias_prefix, :images, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":                network.ID,
		"name":              network.Name,
		"docker_network_id": network.DockerNetworkID,
		"alias_prefix":      network.AliasPrefix,
		"images":            string(imagesJSON),
		"created_at":        formatTime(network.CreatedAt),
		"updated_at":        formatTime(network.UpdatedAt),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: networks.name") {
			return NewStoreError("CreateNetwork", "network", network.Name, "network with this name already exists", ErrDuplicateName)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: networks.id") {
			return NewStoreError("CreateNetwork", "network", network.Name, "network with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateNetwork", "network", network.Name, err.Error(), err)
	}

	return nil
}

func getNetworkRow(ctx context.Context, exec executor, op, name string) (*networkRow, error) {
	var row networkRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM networks WHERE name = ?`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError(op, "network", name, "network not found", ErrNotFound)
		}
		return nil, NewStoreError(op, "network", name, err.Error(), err)
	}
	return &row, nil
}

func getNetwork(ctx context.Context, exec executor, name string) (*domain.Network, error) {
	row, err := getNetworkRow(ctx, exec, "GetNetwork", name)
	if err != nil {
		return nil, err
	}
	network, err := loadNetwork(ctx, exec, row)
	if err != nil {
		return nil, err
	}
	if network.Quarantine != "" {
		return nil, NewStoreError("GetNetwork", "network", name, network.Quarantine, domain.ErrStateCorruption)
	}
	return network, nil
}

func listNetworks(ctx context.Context, exec executor) ([]domain.Network, error) {
	var rows []networkRow
	if err := exec.SelectContext(ctx, &rows, `SELECT * FROM networks ORDER BY name`); err != nil {
		return nil, NewStoreError("ListNetworks", "network", "", err.Error(), err)
	}

	networks := make([]domain.Network, 0, len(rows))
	for i := range rows {
		network, err := loadNetwork(ctx, exec, &rows[i])
		if err != nil {
			return nil, err
		}
		networks = append(networks, *network)
	}
	return networks, nil
}

// loadNetwork converts a row and reads its nodes. Unreadable node rows set
// Quarantine instead of failing.
func loadNetwork(ctx context.Context, exec executor, row *networkRow) (*domain.Network, error) {
	network, corrupt := rowToNetwork(row)

	var nodeRows []nodeRow
	query := `
		SELECT n.*, w.name AS network_name
		FROM nodes n JOIN networks w ON w.id = n.network_id
		WHERE n.network_id = ?
		ORDER BY n.rowid`
	if err := exec.SelectContext(ctx, &nodeRows, query, row.ID); err != nil {
		return nil, NewStoreError("ListNodes", "network", row.Name, err.Error(), err)
	}

	var problems []string
	if corrupt != nil {
		problems = append(problems, corrupt.Error())
	}
	for i := range nodeRows {
		node, err := rowToNode(&nodeRows[i])
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		network.Nodes = append(network.Nodes, *node)
	}
	if len(problems) > 0 {
		network.Quarantine = strings.Join(problems, "; ")
	}
	return network, nil
}

func updateNetwork(ctx context.Context, exec executor, network *domain.Network) error {
	imagesJSON, err := json.Marshal(network.Images)
	if err != nil {
		return NewStoreError("UpdateNetwork", "network", network.Name, "failed to serialize images", ErrInvalidData)
	}

	query := `
		UPDATE networks SET
			docker_network_id = :docker_network_id,
			alias_prefix = :alias_prefix,
			images = :images,
			updated_at = :updated_at
		WHERE name = :name`

	row := map[string]any{
		"name":              network.Name,
		"docker_network_id": network.DockerNetworkID,
		"alias_prefix":      network.AliasPrefix,
		"images":            string(imagesJSON),
		"updated_at":        formatTime(network.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateNetwork", "network", network.Name, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateNetwork", "network", network.Name, "network not found", ErrNotFound)
	}

	return nil
}

// deleteNetwork removes the network; nodes and reservations cascade.
func deleteNetwork(ctx context.Context, exec executor, name string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM networks WHERE name = ?`, name)
	if err != nil {
		return NewStoreError("DeleteNetwork", "network", name, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteNetwork", "network", name, "network not found", ErrNotFound)
	}

	return nil
}

// =============================================================================
// Node Operations
// =============================================================================

// nodeRow represents a node row joined with its network name.
type nodeRow struct {
	NetworkID    string `db:"network_id"`
	NetworkName  string `db:"network_name"`
	Name         string `db:"name"`
	Kind         string `db:"kind"`
	Image        string `db:"image"`
	Alias        string `db:"alias"`
	State        string `db:"state"`
	DesiredState string `db:"desired_state"`
	ContainerID  string `db:"container_id"`
	PortBase     int    `db:"port_base"`
	Ports        string `db:"ports"`
	LastError    string `db:"last_error"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func createNode(ctx context.Context, exec executor, node *domain.Node) error {
	portsJSON, err := json.Marshal(node.Ports.Bindings)
	if err != nil {
		return NewStoreError("CreateNode", "node", node.Ref(), "failed to serialize ports", ErrInvalidData)
	}

	var networkID string
	if err := exec.GetContext(ctx, &networkID, `SELECT id FROM networks WHERE name = ?`, node.Network); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewStoreError("CreateNode", "network", node.Network, "network not found", ErrNotFound)
		}
		return NewStoreError("CreateNode", "node", node.Ref(), err.Error(), err)
	}

	query := `
		INSERT INTO nodes (
			network_id, name, kind, image, alias, state, desired_state,
			container_id, port_base, ports, last_error, created_at, updated_at
		) VALUES (
			:network_id, :name, :kind, :image, :alias, :state, :desired_state,
			:container_id, :port_base, :ports, :last_error, :created_at, :updated_at
		)`

	row := map[string]any{
		"network_id":    networkID,
		"name":          node.Name,
		"kind":          string(node.Kind),
		"image":         node.Image,
		"alias":         node.Alias,
		"state":         string(node.State),
		"desired_state": string(node.Desired),
		"container_id":  node.ContainerID,
		"port_base":     node.Ports.Base,
		"ports":         string(portsJSON),
		"last_error":    node.LastError,
		"created_at":    formatTime(node.CreatedAt),
		"updated_at":    formatTime(node.UpdatedAt),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateNode", "node", node.Ref(), "node already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateNode", "node", node.Ref(), err.Error(), err)
	}

	for _, port := range node.Ports.HostPorts() {
		_, err := exec.ExecContext(ctx,
			`INSERT INTO port_reservations (port, network_id, node_name) VALUES (?, ?, ?)`,
			port, networkID, node.Name)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed: port_reservations.port") {
				return NewStoreError("CreateNode", "node", node.Ref(), fmt.Sprintf("port %d is already reserved", port), ErrDuplicateID)
			}
			return NewStoreError("CreateNode", "node", node.Ref(), err.Error(), err)
		}
	}

	return nil
}

func getNode(ctx context.Context, exec executor, network, name string) (*domain.Node, error) {
	query := `
		SELECT n.*, w.name AS network_name
		FROM nodes n JOIN networks w ON w.id = n.network_id
		WHERE w.name = ? AND n.name = ?`

	var row nodeRow
	ref := network + "/" + name
	if err := exec.GetContext(ctx, &row, query, network, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetNode", "node", ref, "node not found", ErrNotFound)
		}
		return nil, NewStoreError("GetNode", "node", ref, err.Error(), err)
	}

	node, err := rowToNode(&row)
	if err != nil {
		return nil, NewStoreError("GetNode", "node", ref, err.Error(), err)
	}
	return node, nil
}

// updateNode persists the mutable fields. Kind, image and ports are fixed
// at creation.
func updateNode(ctx context.Context, exec executor, node *domain.Node) error {
	query := `
		UPDATE nodes SET
			alias = :alias,
			state = :state,
			desired_state = :desired_state,
			container_id = :container_id,
			last_error = :last_error,
			updated_at = :updated_at
		WHERE name = :name
		  AND network_id = (SELECT id FROM networks WHERE name = :network)`

	row := map[string]any{
		"network":       node.Network,
		"name":          node.Name,
		"alias":         node.Alias,
		"state":         string(node.State),
		"desired_state": string(node.Desired),
		"container_id":  node.ContainerID,
		"last_error":    node.LastError,
		"updated_at":    formatTime(node.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateNode", "node", node.Ref(), err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateNode", "node", node.Ref(), "node not found", ErrNotFound)
	}

	return nil
}

func deleteNode(ctx context.Context, exec executor, network, name string) error {
	ref := network + "/" + name
	_, err := exec.ExecContext(ctx, `
		DELETE FROM port_reservations
		WHERE node_name = ? AND network_id = (SELECT id FROM networks WHERE name = ?)`,
		name, network)
	if err != nil {
		return NewStoreError("DeleteNode", "node", ref, err.Error(), err)
	}

	result, err := exec.ExecContext(ctx, `
		DELETE FROM nodes
		WHERE name = ? AND network_id = (SELECT id FROM networks WHERE name = ?)`,
		name, network)
	if err != nil {
		return NewStoreError("DeleteNode", "node", ref, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteNode", "node", ref, "node not found", ErrNotFound)
	}

	return nil
}

// =============================================================================
// Reservation Operations
// =============================================================================

func listReservedPorts(ctx context.Context, exec executor) ([]int, error) {
	var ports []int
	if err := exec.SelectContext(ctx, &ports, `SELECT port FROM port_reservations ORDER BY port`); err != nil {
		return nil, NewStoreError("ListReservedPorts", "port", "", err.Error(), err)
	}
	return ports, nil
}

func listNetworkReservations(ctx context.Context, exec executor, network string) ([]int, error) {
	var ports []int
	query := `
		SELECT r.port FROM port_reservations r
		JOIN networks w ON w.id = r.network_id
		WHERE w.name = ?
		ORDER BY r.port`
	if err := exec.SelectContext(ctx, &ports, query, network); err != nil {
		return nil, NewStoreError("ListNetworkReservations", "network", network, err.Error(), err)
	}
	return ports, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// rowToNetwork converts a database row to a domain.Network. A bad images
// column is reported but the network is still returned.
func rowToNetwork(row *networkRow) (*domain.Network, error) {
	network := &domain.Network{
		ID:              row.ID,
		Name:            row.Name,
		DockerNetworkID: row.DockerNetworkID,
		AliasPrefix:     row.AliasPrefix,
		Images:          make(map[domain.NodeKind]string),
		CreatedAt:       parseTime(row.CreatedAt),
		UpdatedAt:       parseTime(row.UpdatedAt),
	}

	if row.Images != "" && row.Images != "null" {
		if err := json.Unmarshal([]byte(row.Images), &network.Images); err != nil {
			return network, fmt.Errorf("%w: network %s: bad images: %v", domain.ErrStateCorruption, row.Name, err)
		}
	}
	return network, nil
}

// rowToNode converts a database row to a domain.Node. Any unreadable field
// is reported as domain.ErrStateCorruption.
func rowToNode(row *nodeRow) (*domain.Node, error) {
	ref := row.NetworkName + "/" + row.Name

	state := domain.NodeState(row.State)
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: node %s: unknown state %q", domain.ErrStateCorruption, ref, row.State)
	}
	desired := domain.DesiredState(row.DesiredState)
	if !desired.IsValid() {
		return nil, fmt.Errorf("%w: node %s: unknown desired state %q", domain.ErrStateCorruption, ref, row.DesiredState)
	}
	if err := domain.ValidateName(row.Kind); err != nil {
		return nil, fmt.Errorf("%w: node %s: unknown kind %q", domain.ErrStateCorruption, ref, row.Kind)
	}

	var bindings []domain.PortBinding
	if err := json.Unmarshal([]byte(row.Ports), &bindings); err != nil {
		return nil, fmt.Errorf("%w: node %s: bad ports: %v", domain.ErrStateCorruption, ref, err)
	}
	ports := domain.PortBlock{Base: row.PortBase, Bindings: bindings}
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("node %s: %w", ref, err)
	}

	return &domain.Node{
		Name:        row.Name,
		Kind:        domain.NodeKind(row.Kind),
		Network:     row.NetworkName,
		Image:       row.Image,
		Alias:       row.Alias,
		Ports:       ports,
		ContainerID: row.ContainerID,
		State:       state,
		Desired:     desired,
		LastError:   row.LastError,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
	}, nil
}
