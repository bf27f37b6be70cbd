package northwind

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the Northwind tables. Column names match the gorm models.
const Schema = `
CREATE TABLE customers (
	id            integer PRIMARY KEY,
	company_name  text NOT NULL,
	contact_name  text NOT NULL,
	contact_title text NOT NULL,
	address       text NOT NULL,
	city          text NOT NULL,
	postal_code   text,
	region        text,
	country       text NOT NULL,
	phone         text NOT NULL,
	fax           text
);

CREATE TABLE employees (
	id                integer PRIMARY KEY,
	last_name         text NOT NULL,
	first_name        text NOT NULL,
	title             text NOT NULL,
	title_of_courtesy text NOT NULL,
	birth_date        date NOT NULL,
	hire_date         date NOT NULL,
	address           text NOT NULL,
	city              text NOT NULL,
	postal_code       text NOT NULL,
	country           text NOT NULL,
	home_phone        text NOT NULL,
	extension         integer NOT NULL,
	notes             text NOT NULL,
	recipient_id      integer REFERENCES employees (id)
);

CREATE TABLE suppliers (
	id            integer PRIMARY KEY,
	company_name  text NOT NULL,
	contact_name  text NOT NULL,
	contact_title text NOT NULL,
	address       text NOT NULL,
	city          text NOT NULL,
	region        text,
	postal_code   text NOT NULL,
	country       text NOT NULL,
	phone         text NOT NULL
);

CREATE TABLE products (
	id             integer PRIMARY KEY,
	name           text NOT NULL,
	qt_per_unit    text NOT NULL,
	unit_price     double precision NOT NULL,
	units_in_stock integer NOT NULL,
	units_on_order integer NOT NULL,
	reorder_level  integer NOT NULL,
	discontinued   integer NOT NULL,
	supplier_id    integer NOT NULL REFERENCES suppliers (id)
);

CREATE TABLE orders (
	id               integer PRIMARY KEY,
	order_date       date NOT NULL,
	required_date    date NOT NULL,
	shipped_date     date,
	ship_via         integer NOT NULL,
	freight          double precision NOT NULL,
	ship_name        text NOT NULL,
	ship_city        text NOT NULL,
	ship_region      text,
	ship_postal_code text,
	ship_country     text NOT NULL,
	customer_id      integer NOT NULL REFERENCES customers (id),
	employee_id      integer NOT NULL REFERENCES employees (id)
);

CREATE TABLE order_details (
	unit_price double precision NOT NULL,
	quantity   integer NOT NULL,
	discount   double precision NOT NULL,
	order_id   integer NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
	product_id integer NOT NULL REFERENCES products (id) ON DELETE CASCADE
);

CREATE INDEX employees_recipient_id_idx ON employees (recipient_id);
CREATE INDEX products_supplier_id_idx ON products (supplier_id);
CREATE INDEX orders_customer_id_idx ON orders (customer_id);
CREATE INDEX orders_employee_id_idx ON orders (employee_id);
CREATE INDEX order_details_order_id_idx ON order_details (order_id);
CREATE INDEX order_details_product_id_idx ON order_details (product_id);
`

// DropSchema removes every Northwind table.
const DropSchema = `DROP TABLE IF EXISTS order_details, orders, products, suppliers, employees, customers CASCADE`

// DB is the part of pgx.Conn and pgxpool.Pool used for seeding.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Seed recreates the schema and loads fx with COPY. Tables are loaded in
// foreign key order and analyzed afterwards so plans are stable from the
// first measured iteration.
func Seed(ctx context.Context, db DB, fx *Fixture) error {
	if _, err := db.Exec(ctx, DropSchema); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for _, t := range fx.tables() {
		n, err := db.CopyFrom(ctx, pgx.Identifier{t.name}, t.columns, pgx.CopyFromRows(t.rows))
		if err != nil {
			return fmt.Errorf("copy %s: %w", t.name, err)
		}
		if int(n) != len(t.rows) {
			return fmt.Errorf("copy %s: wrote %d of %d rows", t.name, n, len(t.rows))
		}
	}
	if _, err := db.Exec(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

type table struct {
	name    string
	columns []string
	rows    [][]any
}

// tables returns the fixture as COPY input in foreign key order.
func (fx *Fixture) tables() []table {
	customers := table{name: "customers", columns: []string{"id", "company_name", "contact_name", "contact_title",
		"address", "city", "postal_code", "region", "country", "phone", "fax"}}
	for _, c := range fx.Customers {
		customers.rows = append(customers.rows, []any{c.ID, c.CompanyName, c.ContactName, c.ContactTitle,
			c.Address, c.City, c.PostalCode, c.Region, c.Country, c.Phone, c.Fax})
	}

	employees := table{name: "employees", columns: []string{"id", "last_name", "first_name", "title",
		"title_of_courtesy", "birth_date", "hire_date", "address", "city", "postal_code", "country",
		"home_phone", "extension", "notes", "recipient_id"}}
	for _, e := range fx.Employees {
		employees.rows = append(employees.rows, []any{e.ID, e.LastName, e.FirstName, e.Title,
			e.TitleOfCourtesy, e.BirthDate, e.HireDate, e.Address, e.City, e.PostalCode, e.Country,
			e.HomePhone, e.Extension, e.Notes, e.RecipientID})
	}

	suppliers := table{name: "suppliers", columns: []string{"id", "company_name", "contact_name", "contact_title",
		"address", "city", "region", "postal_code", "country", "phone"}}
	for _, s := range fx.Suppliers {
		suppliers.rows = append(suppliers.rows, []any{s.ID, s.CompanyName, s.ContactName, s.ContactTitle,
			s.Address, s.City, s.Region, s.PostalCode, s.Country, s.Phone})
	}

	products := table{name: "products", columns: []string{"id", "name", "qt_per_unit", "unit_price",
		"units_in_stock", "units_on_order", "reorder_level", "discontinued", "supplier_id"}}
	for _, p := range fx.Products {
		products.rows = append(products.rows, []any{p.ID, p.Name, p.QtPerUnit, p.UnitPrice,
			p.UnitsInStock, p.UnitsOnOrder, p.ReorderLevel, p.Discontinued, p.SupplierID})
	}

	orders := table{name: "orders", columns: []string{"id", "order_date", "required_date", "shipped_date",
		"ship_via", "freight", "ship_name", "ship_city", "ship_region", "ship_postal_code", "ship_country",
		"customer_id", "employee_id"}}
	for _, o := range fx.Orders {
		orders.rows = append(orders.rows, []any{o.ID, o.OrderDate, o.RequiredDate, o.ShippedDate,
			o.ShipVia, o.Freight, o.ShipName, o.ShipCity, o.ShipRegion, o.ShipPostalCode, o.ShipCountry,
			o.CustomerID, o.EmployeeID})
	}

	details := table{name: "order_details", columns: []string{"unit_price", "quantity", "discount", "order_id", "product_id"}}
	for _, d := range fx.Details {
		details.rows = append(details.rows, []any{d.UnitPrice, d.Quantity, d.Discount, d.OrderID, d.ProductID})
	}

	return []table{customers, employees, suppliers, products, orders, details}
}
