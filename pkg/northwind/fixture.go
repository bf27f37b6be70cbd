package northwind

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

// Rows per table at scale 1, close to the classic Northwind sample.
const (
	baseCustomers = 91
	baseEmployees = 9
	baseSuppliers = 29
	baseProducts  = 77
	baseOrders    = 830

	// maxOrderLookups caps the order ids used by the per-order groups.
	maxOrderLookups = 100
)

type Customer struct {
	ID           int
	CompanyName  string
	ContactName  string
	ContactTitle string
	Address      string
	City         string
	PostalCode   *string
	Region       *string
	Country      string
	Phone        string
	Fax          *string
}

type Employee struct {
	ID              int
	LastName        string
	FirstName       string
	Title           string
	TitleOfCourtesy string
	BirthDate       time.Time
	HireDate        time.Time
	Address         string
	City            string
	PostalCode      string
	Country         string
	HomePhone       string
	Extension       int
	Notes           string
	RecipientID     *int

	Recipient *Employee `gorm:"foreignKey:RecipientID"`
}

type Supplier struct {
	ID           int
	CompanyName  string
	ContactName  string
	ContactTitle string
	Address      string
	City         string
	Region       *string
	PostalCode   string
	Country      string
	Phone        string
}

type Product struct {
	ID           int
	Name         string
	QtPerUnit    string
	UnitPrice    float64
	UnitsInStock int
	UnitsOnOrder int
	ReorderLevel int
	Discontinued int
	SupplierID   int

	Supplier *Supplier
}

type Order struct {
	ID             int
	OrderDate      time.Time
	RequiredDate   time.Time
	ShippedDate    *time.Time
	ShipVia        int
	Freight        float64
	ShipName       string
	ShipCity       string
	ShipRegion     *string
	ShipPostalCode *string
	ShipCountry    string
	CustomerID     int
	EmployeeID     int

	Details []Detail `gorm:"foreignKey:OrderID"`
}

type Detail struct {
	UnitPrice float64
	Quantity  int
	Discount  float64
	OrderID   int
	ProductID int

	Order   *Order
	Product *Product
}

func (Customer) TableName() string { return "customers" }
func (Employee) TableName() string { return "employees" }
func (Supplier) TableName() string { return "suppliers" }
func (Product) TableName() string  { return "products" }
func (Order) TableName() string    { return "orders" }
func (Detail) TableName() string   { return "order_details" }

// Fixture is a generated dataset plus the ids and search terms the catalog
// queries with.
type Fixture struct {
	Seed  uint64
	Scale int

	Customers []Customer
	Employees []Employee
	Suppliers []Supplier
	Products  []Product
	Orders    []Order
	Details   []Detail

	CustomerIDs      []int
	EmployeeIDs      []int
	SupplierIDs      []int
	ProductIDs       []int
	OrderIDs         []int
	CustomerSearches []string
	ProductSearches  []string
}

var (
	companyWords = []string{"Alfreds", "Ana", "Antonio", "Around", "Berglunds", "Blauer", "Blondel", "Bolido",
		"Bon", "Bottom", "Cactus", "Centro", "Chop", "Consolidated", "Drachenblut", "Du", "Eastern", "Ernst",
		"Familia", "Folies", "Frankenversand", "France", "Furia", "Galeria", "Godos", "Gourmet", "Great",
		"Hanari", "Hungry", "Island", "Koniglich", "Laughing", "Lazy", "Lehmanns", "Lonesome", "Magazzini",
		"Maison", "Mere", "Morgenstern", "North", "Ocean", "Old", "Ottilies", "Paris", "Pericles", "Piccolo",
		"Princesa", "Que", "Queen", "Rancho", "Rattlesnake", "Reggiani", "Ricardo", "Richter", "Romero",
		"Santa", "Save", "Seven", "Simons", "Split", "Supremes", "Toms", "Tortuga", "Tradicao", "Trails",
		"Vaffeljernet", "Victuailles", "Vins", "Wartian", "Wellington", "White", "Wilman", "Wolski"}
	companySuffixes = []string{"Futterkiste", "Trujillo", "Emparedados", "Horn", "snabbkop", "See Delikatessen",
		"pere et fils", "Comidas preparadas", "app", "Dollar Markets", "Market", "Delicatessen", "Imports",
		"Trading", "Provisions", "Foods", "Grocers", "Bistro", "Supermercado", "Stores"}
	firstNames = []string{"Nancy", "Andrew", "Janet", "Margaret", "Steven", "Michael", "Robert", "Laura",
		"Anne", "Maria", "Ana", "Thomas", "Christina", "Hanna", "Frederique", "Martin", "Elizabeth", "Victoria",
		"Patricio", "Francisco", "Yang", "Pedro", "Aria", "Ann", "Helen", "Carlos", "Diego", "Annette"}
	lastNames = []string{"Davolio", "Fuller", "Leverling", "Peacock", "Buchanan", "Suyama", "King", "Callahan",
		"Dodsworth", "Anders", "Trujillo", "Moreno", "Hardy", "Berglund", "Moos", "Citeaux", "Sommer",
		"Lebihan", "Lincoln", "Ashworth", "Simpson", "Chang", "Afonso", "Devon", "Bennett", "Hernandez"}
	titles    = []string{"Owner", "Sales Representative", "Marketing Manager", "Order Administrator", "Accounting Manager", "Sales Agent", "Purchasing Manager"}
	cities    = []string{"Berlin", "Mexico D.F.", "London", "Lulea", "Mannheim", "Strasbourg", "Madrid", "Marseille", "Tsawassen", "Buenos Aires", "Bern", "Sao Paulo", "Aachen", "Nantes", "Graz", "Lisboa", "Barcelona", "Sevilla", "Campinas", "Eugene", "Caracas", "Rio de Janeiro", "Seattle", "Tacoma", "Kirkland", "Redmond"}
	countries = []string{"Germany", "Mexico", "UK", "Sweden", "France", "Spain", "Canada", "Argentina", "Switzerland", "Brazil", "Austria", "Portugal", "USA", "Venezuela", "Italy", "Finland", "Denmark"}
	regions   = []string{"WA", "OR", "BC", "SP", "RJ", "NM", "Isle of Wight", "Co. Cork"}
	// Product names are built from two words so that searches hit a spread
	// of products.
	productWords = []string{"Chai", "Chang", "Aniseed", "Chef", "Anton", "Grandma", "Uncle", "Northwoods",
		"Mishi", "Ikura", "Queso", "Konbu", "Tofu", "Genen", "Pavlova", "Alice", "Carnarvon", "Teatime",
		"Sir", "Gustaf", "Tunnbrod", "Guarana", "Nord-Ost", "Gorgonzola", "Mascarpone", "Geitost",
		"Sasquatch", "Steeleye", "Inlagd", "Gravad", "Cote", "Chartreuse", "Boston", "Singaporean",
		"Louisiana", "Gnocchi", "Wimmers", "Ravioli", "Escargots", "Raclette", "Camembert", "Rhonbrau",
		"Lakkalikoori", "Original", "Rossle", "Scottish", "Tarte", "Valkoinen", "Zaanse", "Filo", "Perth"}
	productKinds = []string{"Syrup", "Seasoning", "Gumbo Mix", "Spread", "Pears", "Cranberry Sauce", "Dried Apples",
		"Crab Meat", "Biscuits", "Marmalade", "Scones", "Sauerkraut", "Chocolate", "Ale", "Lager", "Dip",
		"Pasties", "Cheese", "Bread", "Coffee", "Hokkien Fried Mee", "Hot Pepper Sauce", "Sill", "Lax"}
	quantities      = []string{"10 boxes x 20 bags", "24 - 12 oz bottles", "12 - 550 ml bottles", "48 - 6 oz jars", "12 - 8 oz jars", "18 - 500 g pkgs.", "12 - 200 ml jars", "1 kg pkg.", "40 - 100 g pkgs.", "24 - 250 g pkgs."}
	customerSearch  = []string{"ha", "ar", "ve", "ki", "Mo", "de", "OR", "li", "no", "te"}
	productSearches = []string{"ha", "ey", "or", "po", "ge", "Sa", "ch", "an", "LE", "ot"}
)

// Generate builds a deterministic fixture. The same seed and scale always
// produce the same rows. Scale values below 1 are treated as 1.
func Generate(seed uint64, scale int) *Fixture {
	if scale < 1 {
		scale = 1
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	fx := &Fixture{Seed: seed, Scale: scale}

	pick := func(list []string) string { return list[rng.IntN(len(list))] }
	maybe := func(list []string) *string {
		if rng.IntN(3) == 0 {
			return nil
		}
		s := pick(list)
		return &s
	}
	postal := func() string { return fmt.Sprintf("%05d", rng.IntN(100000)) }
	phone := func() string { return fmt.Sprintf("(%d) %03d-%04d", 1+rng.IntN(99), rng.IntN(1000), rng.IntN(10000)) }
	epoch := time.Date(1996, time.July, 4, 0, 0, 0, 0, time.UTC)

	for i := range baseCustomers * scale {
		fx.Customers = append(fx.Customers, Customer{
			ID:           i + 1,
			CompanyName:  pick(companyWords) + " " + pick(companySuffixes),
			ContactName:  pick(firstNames) + " " + pick(lastNames),
			ContactTitle: pick(titles),
			Address:      fmt.Sprintf("%d %s Str.", 1+rng.IntN(200), pick(lastNames)),
			City:         pick(cities),
			PostalCode:   ptr(postal()),
			Region:       maybe(regions),
			Country:      pick(countries),
			Phone:        phone(),
			Fax:          maybe([]string{phone()}),
		})
	}

	for i := range baseEmployees * scale {
		e := Employee{
			ID:              i + 1,
			LastName:        pick(lastNames),
			FirstName:       pick(firstNames),
			Title:           pick(titles),
			TitleOfCourtesy: pick([]string{"Ms.", "Mr.", "Mrs.", "Dr."}),
			BirthDate:       epoch.AddDate(-20-rng.IntN(40), -rng.IntN(12), -rng.IntN(28)),
			HireDate:        epoch.AddDate(-rng.IntN(6), -rng.IntN(12), -rng.IntN(28)),
			Address:         fmt.Sprintf("%d %s Rd.", 1+rng.IntN(900), pick(lastNames)),
			City:            pick(cities),
			PostalCode:      postal(),
			Country:         pick(countries),
			HomePhone:       phone(),
			Extension:       1000 + rng.IntN(9000),
			Notes:           "Joined the company as a " + strings.ToLower(pick(titles)) + ".",
		}
		// Everyone but the first employee reports to someone hired before them.
		if i > 0 {
			boss := 1 + rng.IntN(i)
			e.RecipientID = &boss
		}
		fx.Employees = append(fx.Employees, e)
	}

	for i := range baseSuppliers * scale {
		fx.Suppliers = append(fx.Suppliers, Supplier{
			ID:           i + 1,
			CompanyName:  pick(companyWords) + " " + pick(companySuffixes),
			ContactName:  pick(firstNames) + " " + pick(lastNames),
			ContactTitle: pick(titles),
			Address:      fmt.Sprintf("%d %s Way", 1+rng.IntN(500), pick(lastNames)),
			City:         pick(cities),
			Region:       maybe(regions),
			PostalCode:   postal(),
			Country:      pick(countries),
			Phone:        phone(),
		})
	}

	for i := range baseProducts * scale {
		fx.Products = append(fx.Products, Product{
			ID:           i + 1,
			Name:         pick(productWords) + " " + pick(productKinds),
			QtPerUnit:    pick(quantities),
			UnitPrice:    cents(2 + rng.Float64()*250),
			UnitsInStock: rng.IntN(125),
			UnitsOnOrder: 10 * rng.IntN(10),
			ReorderLevel: 5 * rng.IntN(7),
			Discontinued: boolInt(rng.IntN(10) == 0),
			SupplierID:   1 + rng.IntN(len(fx.Suppliers)),
		})
	}

	for i := range baseOrders * scale {
		ordered := epoch.AddDate(0, 0, i*670/(baseOrders*scale))
		o := Order{
			ID:             i + 1,
			OrderDate:      ordered,
			RequiredDate:   ordered.AddDate(0, 0, 28),
			ShipVia:        1 + rng.IntN(3),
			Freight:        cents(rng.Float64() * 1000),
			ShipName:       pick(companyWords) + " " + pick(companySuffixes),
			ShipCity:       pick(cities),
			ShipRegion:     maybe(regions),
			ShipPostalCode: ptr(postal()),
			ShipCountry:    pick(countries),
			CustomerID:     1 + rng.IntN(len(fx.Customers)),
			EmployeeID:     1 + rng.IntN(len(fx.Employees)),
		}
		if rng.IntN(40) != 0 {
			shipped := ordered.AddDate(0, 0, 1+rng.IntN(30))
			o.ShippedDate = &shipped
		}
		fx.Orders = append(fx.Orders, o)

		// Every order has at least one line so joins and preloads return the
		// same number of rows.
		lines := 1 + rng.IntN(4)
		for _, p := range rng.Perm(len(fx.Products))[:lines] {
			product := fx.Products[p]
			fx.Details = append(fx.Details, Detail{
				UnitPrice: product.UnitPrice,
				Quantity:  1 + rng.IntN(60),
				Discount:  float64(rng.IntN(5)) * 0.05,
				OrderID:   o.ID,
				ProductID: product.ID,
			})
		}
	}

	fx.CustomerIDs = ids(len(fx.Customers))
	fx.EmployeeIDs = ids(len(fx.Employees))
	fx.SupplierIDs = ids(len(fx.Suppliers))
	fx.ProductIDs = ids(len(fx.Products))
	fx.OrderIDs = sample(rng, len(fx.Orders), maxOrderLookups)
	fx.CustomerSearches = append([]string(nil), customerSearch...)
	fx.ProductSearches = append([]string(nil), productSearches...)
	return fx
}

func ptr[T any](v T) *T { return &v }

func cents(f float64) float64 {
	return float64(int(f*100)) / 100
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ids(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// sample returns k distinct ids from 1..n in ascending order.
func sample(rng *rand.Rand, n, k int) []int {
	if k >= n {
		return ids(n)
	}
	perm := rng.Perm(n)[:k]
	out := make([]int, k)
	for i, p := range perm {
		out[i] = p + 1
	}
	slices.Sort(out)
	return out
}

// ilike matches the way ILIKE '%term%' does for ASCII text.
func ilike(s, term string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(term))
}

// Expected row counts for one run of each query family, used to check that
// every strategy returns the same result.

func (fx *Fixture) customerSearchRows() int {
	n := 0
	for _, term := range fx.CustomerSearches {
		for _, c := range fx.Customers {
			if ilike(c.CompanyName, term) {
				n++
			}
		}
	}
	return n
}

func (fx *Fixture) productSearchRows() int {
	n := 0
	for _, term := range fx.ProductSearches {
		for _, p := range fx.Products {
			if ilike(p.Name, term) {
				n++
			}
		}
	}
	return n
}

func (fx *Fixture) orderDetailRows() int {
	perOrder := make(map[int]int, len(fx.Orders))
	for _, d := range fx.Details {
		perOrder[d.OrderID]++
	}
	n := 0
	for _, id := range fx.OrderIDs {
		n += perOrder[id]
	}
	return n
}
