package northwind

import (
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/justjake/querybench/pkg/executor"
)

// shape is how a group's operation drives its query.
type shape int

const (
	// once runs the query a single time without parameters.
	once shape = iota
	// each runs the query once per parameter set, one after another.
	each
	// fanOut runs the query once per parameter set, all at the same time.
	fanOut
	// pages walks the result with limit and offset until a short page.
	pages
)

// pageSize is the limit of the paginated group.
const pageSize = 50

// query is one logical query of the matrix in every strategy's form.
type query struct {
	group string
	// stmt names the prepared statement.
	stmt  string
	shape shape

	// sql is used by the raw strategies. Parameters are $n placeholders.
	sql string
	// build returns the builder form with args bound in order.
	build func(args ...any) sq.Sqlizer
	model executor.Model

	// params returns the parameter sets for each and fanOut groups.
	params func(fx *Fixture) [][]any
	// rows is the total number of rows one operation returns.
	rows func(fx *Fixture) int
}

var sb = executor.StatementBuilder

const orderSummaryColumns = `"id", "shipped_date", "ship_name", "ship_city", "ship_country", count("product_id") as "products",
	sum("quantity") as "quantity", sum("quantity" * "unit_price") as "total_price"`

var orderSummary = []string{
	"o.id", "o.shipped_date", "o.ship_name", "o.ship_city", "o.ship_country",
	"count(od.product_id) AS products",
	"sum(od.quantity) AS quantity",
	"sum(od.quantity * od.unit_price) AS total_price",
}

// OrderSummary is an order with its line count and totals, the shape the
// order summary groups return.
type OrderSummary struct {
	ID          int
	ShippedDate *time.Time
	ShipName    string
	ShipCity    string
	ShipCountry string
	Products    int
	Quantity    int
	TotalPrice  float64
}

// summarizeOrders reduces preloaded orders to summaries.
func summarizeOrders(dest any) any {
	orders := *dest.(*[]Order)
	out := make([]OrderSummary, len(orders))
	for i, o := range orders {
		sum := OrderSummary{
			ID:          o.ID,
			ShippedDate: o.ShippedDate,
			ShipName:    o.ShipName,
			ShipCity:    o.ShipCity,
			ShipCountry: o.ShipCountry,
			Products:    len(o.Details),
		}
		for _, d := range o.Details {
			sum.Quantity += d.Quantity
			sum.TotalPrice += float64(d.Quantity) * d.UnitPrice
		}
		out[i] = sum
	}
	return out
}

func intParams(ids []int) [][]any {
	out := make([][]any, len(ids))
	for i, id := range ids {
		out[i] = []any{id}
	}
	return out
}

func likeParams(terms []string) [][]any {
	out := make([][]any, len(terms))
	for i, t := range terms {
		out[i] = []any{"%" + t + "%"}
	}
	return out
}

func find[T any]() func() any {
	return func() any { return new([]T) }
}

func noArgs(db *gorm.DB, _ ...any) *gorm.DB { return db }

func byID(db *gorm.DB, params ...any) *gorm.DB {
	return db.Where("id = ?", params[0])
}

// catalog is the benchmark matrix, in report order.
var catalog = []query{
	{
		group: "select * from customer",
		stmt:  "customers-get-all",
		shape: once,
		sql:   `select * from "customers"`,
		build: func(...any) sq.Sqlizer { return sb.Select("*").From("customers") },
		model: executor.Model{Name: "customers-get-all", New: find[Customer](), Build: noArgs},
		rows:  func(fx *Fixture) int { return len(fx.Customers) },
	},
	{
		group:  "select * from customer where id = ?",
		stmt:   "customers-get-info",
		shape:  each,
		sql:    `select * from "customers" where "customers"."id" = $1`,
		build:  func(args ...any) sq.Sqlizer { return sb.Select("*").From("customers").Where(sq.Eq{"id": args[0]}) },
		model:  executor.Model{Name: "customers-get-info", New: find[Customer](), Build: byID},
		params: func(fx *Fixture) [][]any { return intParams(fx.CustomerIDs) },
		rows:   func(fx *Fixture) int { return len(fx.CustomerIDs) },
	},
	{
		group: "select * from customer where company_name ilike ?",
		stmt:  "customers-search",
		shape: each,
		sql:   `select * from "customers" where "customers"."company_name" ilike $1`,
		build: func(args ...any) sq.Sqlizer {
			return sb.Select("*").From("customers").Where(sq.ILike{"company_name": args[0]})
		},
		model: executor.Model{Name: "customers-search", New: find[Customer](), Build: func(db *gorm.DB, params ...any) *gorm.DB {
			return db.Where("company_name ILIKE ?", params[0])
		}},
		params: func(fx *Fixture) [][]any { return likeParams(fx.CustomerSearches) },
		rows:   (*Fixture).customerSearchRows,
	},
	{
		group: "select * from employee",
		stmt:  "employees-get-all",
		shape: once,
		sql:   `select * from "employees"`,
		build: func(...any) sq.Sqlizer { return sb.Select("*").From("employees") },
		model: executor.Model{Name: "employees-get-all", New: find[Employee](), Build: noArgs},
		rows:  func(fx *Fixture) int { return len(fx.Employees) },
	},
	{
		group: "select * from employee where id = ? left join reportee",
		stmt:  "employees-get-info",
		shape: each,
		sql: `select "e1".*, "e2"."last_name" as "reports_lname", "e2"."first_name" as "reports_fname"
	from "employees" as "e1" left join "employees" as "e2" on "e2"."id" = "e1"."recipient_id" where "e1"."id" = $1`,
		build: func(args ...any) sq.Sqlizer {
			return sb.Select("e1.*", "e2.last_name AS reports_lname", "e2.first_name AS reports_fname").
				From("employees AS e1").
				LeftJoin("employees AS e2 ON e2.id = e1.recipient_id").
				Where(sq.Eq{"e1.id": args[0]})
		},
		model: executor.Model{Name: "employees-get-info", New: find[Employee](), Build: func(db *gorm.DB, params ...any) *gorm.DB {
			return byID(db.Preload("Recipient"), params...)
		}},
		params: func(fx *Fixture) [][]any { return intParams(fx.EmployeeIDs) },
		rows:   func(fx *Fixture) int { return len(fx.EmployeeIDs) },
	},
	{
		group: "select * from supplier",
		stmt:  "suppliers-get-all",
		shape: once,
		sql:   `select * from "suppliers"`,
		build: func(...any) sq.Sqlizer { return sb.Select("*").From("suppliers") },
		model: executor.Model{Name: "suppliers-get-all", New: find[Supplier](), Build: noArgs},
		rows:  func(fx *Fixture) int { return len(fx.Suppliers) },
	},
	{
		group:  "select * from supplier where id = ?",
		stmt:   "suppliers-get-info",
		shape:  each,
		sql:    `select * from "suppliers" where "suppliers"."id" = $1`,
		build:  func(args ...any) sq.Sqlizer { return sb.Select("*").From("suppliers").Where(sq.Eq{"id": args[0]}) },
		model:  executor.Model{Name: "suppliers-get-info", New: find[Supplier](), Build: byID},
		params: func(fx *Fixture) [][]any { return intParams(fx.SupplierIDs) },
		rows:   func(fx *Fixture) int { return len(fx.SupplierIDs) },
	},
	{
		group: "select * from product",
		stmt:  "products-get-all",
		shape: once,
		sql:   `select * from "products"`,
		build: func(...any) sq.Sqlizer { return sb.Select("*").From("products") },
		model: executor.Model{Name: "products-get-all", New: find[Product](), Build: noArgs},
		rows:  func(fx *Fixture) int { return len(fx.Products) },
	},
	{
		group: "select * from product left join supplier where product.id = ?",
		stmt:  "products-get-info",
		shape: each,
		sql: `select "products".*, "suppliers".*
	from "products" left join "suppliers" on "products"."supplier_id" = "suppliers"."id" where "products"."id" = $1`,
		build: func(args ...any) sq.Sqlizer {
			return sb.Select("products.*", "suppliers.*").
				From("products").
				LeftJoin("suppliers ON products.supplier_id = suppliers.id").
				Where(sq.Eq{"products.id": args[0]})
		},
		model: executor.Model{Name: "products-get-info", New: find[Product](), Build: func(db *gorm.DB, params ...any) *gorm.DB {
			return byID(db.Preload("Supplier"), params...)
		}},
		params: func(fx *Fixture) [][]any { return intParams(fx.ProductIDs) },
		rows:   func(fx *Fixture) int { return len(fx.ProductIDs) },
	},
	{
		group: "select * from product where product.name ilike ?",
		stmt:  "products-search",
		shape: each,
		sql:   `select * from "products" where "products"."name" ilike $1`,
		build: func(args ...any) sq.Sqlizer {
			return sb.Select("*").From("products").Where(sq.ILike{"name": args[0]})
		},
		model: executor.Model{Name: "products-search", New: find[Product](), Build: func(db *gorm.DB, params ...any) *gorm.DB {
			return db.Where("name ILIKE ?", params[0])
		}},
		params: func(fx *Fixture) [][]any { return likeParams(fx.ProductSearches) },
		rows:   (*Fixture).productSearchRows,
	},
	{
		group: "select all order with sum and count",
		stmt:  "orders-get-all",
		shape: once,
		sql: `select ` + orderSummaryColumns + `
	from "orders" as "o" left join "order_details" as "od" on "od"."order_id" = "o"."id" group by "o"."id"`,
		build: func(...any) sq.Sqlizer {
			return sb.Select(orderSummary...).
				From("orders AS o").
				LeftJoin("order_details AS od ON od.order_id = o.id").
				GroupBy("o.id")
		},
		model: executor.Model{Name: "orders-get-all", New: find[Order](), Reduce: summarizeOrders, Build: func(db *gorm.DB, _ ...any) *gorm.DB {
			return db.Preload("Details")
		}},
		rows: func(fx *Fixture) int { return len(fx.Orders) },
	},
	{
		group: "select order with sum and count using limit with offset",
		stmt:  "orders-get-limit-with-offset",
		shape: pages,
		sql: `select ` + orderSummaryColumns + `
	from "orders" as "o" left join "order_details" as "od" on "od"."order_id" = "o"."id" group by "o"."id" order by "o"."id" asc limit $1 offset $2`,
		build: func(args ...any) sq.Sqlizer {
			return sb.Select(orderSummary...).
				From("orders AS o").
				LeftJoin("order_details AS od ON od.order_id = o.id").
				GroupBy("o.id").
				OrderBy("o.id ASC").
				Suffix("LIMIT ? OFFSET ?", args[0], args[1])
		},
		model: executor.Model{Name: "orders-get-limit-with-offset", New: find[Order](), Reduce: summarizeOrders, Build: func(db *gorm.DB, params ...any) *gorm.DB {
			return db.Preload("Details").Order("id ASC").Limit(params[0].(int)).Offset(params[1].(int))
		}},
		rows: func(fx *Fixture) int { return len(fx.Orders) },
	},
	{
		group: "select order where order.id = ? with sum and count",
		stmt:  "orders-get-by-id",
		shape: fanOut,
		sql: `select ` + orderSummaryColumns + `
	from "orders" as "o" left join "order_details" as "od" on "od"."order_id" = "o"."id" where "o"."id" = $1 group by "o"."id"`,
		build: func(args ...any) sq.Sqlizer {
			return sb.Select(orderSummary...).
				From("orders AS o").
				LeftJoin("order_details AS od ON od.order_id = o.id").
				Where(sq.Eq{"o.id": args[0]}).
				GroupBy("o.id")
		},
		model: executor.Model{Name: "orders-get-by-id", New: find[Order](), Reduce: summarizeOrders, Build: func(db *gorm.DB, params ...any) *gorm.DB {
			return byID(db.Preload("Details"), params...)
		}},
		params: func(fx *Fixture) [][]any { return intParams(fx.OrderIDs) },
		rows:   func(fx *Fixture) int { return len(fx.OrderIDs) },
	},
	{
		group: "select * from order_detail where order_id = ?",
		stmt:  "orders-get-info",
		shape: each,
		sql: `select * from "orders" as o
	left join "order_details" as od on o.id = od.order_id
	left join "products" as p on od.product_id = p.id
	where o.id = $1`,
		build: func(args ...any) sq.Sqlizer {
			return sb.Select("*").
				From("orders AS o").
				LeftJoin("order_details AS od ON o.id = od.order_id").
				LeftJoin("products AS p ON od.product_id = p.id").
				Where(sq.Eq{"o.id": args[0]})
		},
		// One row per order line, like the join.
		model: executor.Model{Name: "orders-get-info", New: find[Detail](), Build: func(db *gorm.DB, params ...any) *gorm.DB {
			return db.Preload("Order").Preload("Product").Where("order_id = ?", params[0])
		}},
		params: func(fx *Fixture) [][]any { return intParams(fx.OrderIDs) },
		rows:   (*Fixture).orderDetailRows,
	},
}
