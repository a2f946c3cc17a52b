package terminal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"posterm/internal/catalog"
	"posterm/internal/model"
	"posterm/internal/picker"
	"posterm/internal/posapi"
	"posterm/internal/reader"
	"posterm/internal/receipt"
	"posterm/internal/session"
)

func commands() map[string]command {
	return map[string]command{
		"help":       {"help", "list commands", (*Console).cmdHelp},
		"quit":       {"quit", "leave the console", func(*Console, context.Context, []string) error { return ErrQuit }},
		"reload":     {"reload", "fetch the catalog again", (*Console).cmdReload},
		"tab":        {"tab reader|keypad|library|favorites", "switch the catalog panel", (*Console).cmdTab},
		"ls":         {"ls", "list products matching the current filter", (*Console).cmdList},
		"search":     {"search [text]", "set or clear the library search", (*Console).cmdSearch},
		"category":   {"category <id>", "toggle a category filter", (*Console).cmdCategory},
		"collection": {"collection <id>", "toggle a collection filter", (*Console).cmdCollection},
		"filters":    {"filters", "show categories and collections", (*Console).cmdFilters},
		"fav":        {"fav <product-id>", "toggle a favorite", (*Console).cmdFav},
		"pick":       {"pick <product-id>", "open the variant picker", (*Console).cmdPick},
		"variant":    {"variant <variant-id>", "select a variant in the picker", (*Console).cmdVariant},
		"qty":        {"qty <n>|+|-", "set picker quantity", (*Console).cmdQty},
		"add":        {"add", "add the picked variant to the cart", (*Console).cmdAdd},
		"cancel":     {"cancel", "close the picker", (*Console).cmdCancel},
		"custom":     {"custom <amount> [label]", "add a keypad amount, e.g. custom 12.50 Gift wrap", (*Console).cmdCustom},
		"cart":       {"cart", "show the cart", (*Console).cmdCart},
		"set":        {"set <line> <qty>", "change a line quantity (0 removes)", (*Console).cmdSet},
		"rm":         {"rm <line>", "remove a cart line", (*Console).cmdRemove},
		"clear":      {"clear", "empty the cart", (*Console).cmdClear},
		"customer":   {"customer [email=..] [first=..] [last=..]", "set customer details", (*Console).cmdCustomer},
		"charge":     {"charge", "create the order and go to checkout", (*Console).cmdCharge},
		"card":       {"card <number> <mm/yy> <cvc>", "enter card details", (*Console).cmdCard},
		"pay":        {"pay", "confirm the payment", (*Console).cmdPay},
		"back":       {"back", "return from checkout to the catalog", (*Console).cmdBack},
		"receipt":    {"receipt", "show the receipt", (*Console).cmdReceipt},
		"archive":    {"archive", "archive the receipt", (*Console).cmdArchive},
		"new":        {"new", "start a new sale", (*Console).cmdNew},
		"reader":     {"reader [discover|connect <serial>|disconnect|confirm]", "reader status and control", (*Console).cmdReader},
	}
}

func (c *Console) cmdHelp(_ context.Context, _ []string) error {
	names := make([]string, 0, len(c.cmds))
	for n := range c.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c.printf("  %-50s %s\n", c.cmds[n].usage, c.cmds[n].help)
	}
	return nil
}

func (c *Console) cmdReload(ctx context.Context, _ []string) error {
	if err := catalog.Load(ctx, c.Store, c.Catalog, c.Log); err != nil {
		c.printf("%s\n", c.Store.State().Error)
		return err
	}
	c.printf("%d products loaded\n", len(c.Store.State().Products))
	return nil
}

func (c *Console) cmdTab(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	t := session.Tab(strings.ToLower(args[0]))
	if !session.ValidTab(t) {
		return errUsage
	}
	c.Store.Dispatch(session.SetTab{Tab: t})
	return nil
}

func (c *Console) products() ([]model.Product, error) {
	s := c.Store.State()
	if s.Loading {
		return nil, errors.New("catalog is still loading")
	}
	if s.Error != "" && len(s.Products) == 0 {
		return nil, fmt.Errorf("%s (use reload)", s.Error)
	}
	return s.Products, nil
}

func (c *Console) cmdList(_ context.Context, _ []string) error {
	ps, err := c.products()
	if err != nil {
		return err
	}
	if c.Store.State().ActiveTab == session.TabFavorites {
		ps = c.Favorites.Filter(ps)
	} else {
		ps = c.filter.Apply(ps)
	}
	c.renderProducts(ps)
	return nil
}

func (c *Console) cmdSearch(ctx context.Context, args []string) error {
	c.filter = c.filter.WithQuery(strings.Join(args, " "))
	c.Store.Dispatch(session.SetTab{Tab: session.TabLibrary})
	return c.cmdList(ctx, nil)
}

func (c *Console) cmdCategory(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	c.filter = c.filter.ToggleCategory(args[0])
	c.Store.Dispatch(session.SetTab{Tab: session.TabLibrary})
	return c.cmdList(ctx, nil)
}

func (c *Console) cmdCollection(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	c.filter = c.filter.ToggleCollection(args[0])
	c.Store.Dispatch(session.SetTab{Tab: session.TabLibrary})
	return c.cmdList(ctx, nil)
}

func (c *Console) cmdFilters(_ context.Context, _ []string) error {
	ps, err := c.products()
	if err != nil {
		return err
	}
	mark := func(active bool) string {
		if active {
			return "*"
		}
		return " "
	}
	c.printf("categories:\n")
	for _, t := range catalog.Categories(ps) {
		c.printf(" %s %-20s %s\n", mark(t.ID == c.filter.CategoryID), t.ID, t.Title)
	}
	c.printf("collections:\n")
	for _, t := range catalog.Collections(ps) {
		c.printf(" %s %-20s %s\n", mark(t.ID == c.filter.CollectionID), t.ID, t.Title)
	}
	return nil
}

func (c *Console) findProduct(id string) (model.Product, error) {
	ps, err := c.products()
	if err != nil {
		return model.Product{}, err
	}
	for _, p := range ps {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Product{}, fmt.Errorf("%w %q", errNoProduct, id)
}

func (c *Console) cmdFav(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	p, err := c.findProduct(args[0])
	if err != nil {
		return err
	}
	on, err := c.Favorites.Toggle(p.ID)
	if err != nil {
		return err
	}
	if on {
		c.printf("%s added to favorites\n", p.Title)
	} else {
		c.printf("%s removed from favorites\n", p.Title)
	}
	return nil
}

func (c *Console) cmdPick(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	p, err := c.findProduct(args[0])
	if err != nil {
		return err
	}
	c.picker = picker.Open(p)
	c.renderPicker()
	return nil
}

func (c *Console) cmdVariant(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if c.picker == nil {
		return errNoPicker
	}
	if err := c.picker.Select(args[0]); err != nil {
		return err
	}
	c.renderPicker()
	return nil
}

func (c *Console) cmdQty(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if c.picker == nil {
		return errNoPicker
	}
	switch args[0] {
	case "+":
		c.picker.Increment()
	case "-":
		c.picker.Decrement()
	default:
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errUsage
		}
		c.picker.SetQuantity(n)
	}
	c.renderPicker()
	return nil
}

func (c *Console) cmdAdd(_ context.Context, _ []string) error {
	if c.picker == nil {
		return errNoPicker
	}
	line, err := c.picker.Line()
	if err != nil {
		return err
	}
	if err := c.addLine(line); err != nil {
		return err
	}
	c.picker = nil
	c.printf("added %d x %s\n", line.Quantity, line.Label())
	return nil
}

func (c *Console) cmdCancel(_ context.Context, _ []string) error {
	c.picker = nil
	return nil
}

func (c *Console) addLine(line model.CartLine) error {
	if v := c.Store.State().View; v != session.ViewCatalog {
		return fmt.Errorf("cart is locked in %s", v)
	}
	c.Store.Dispatch(session.AddToCart{Line: line})
	return nil
}

func (c *Console) cmdCustom(_ context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	cents, err := parseCents(args[0])
	if err != nil {
		return err
	}
	label := strings.TrimSpace(strings.Join(args[1:], " "))
	if label == "" {
		label = posapi.DefaultCustomLabel
	}
	line := model.CartLine{
		Key:            c.customKey(),
		Title:          label,
		UnitPriceCents: cents,
		Quantity:       1,
		Custom:         true,
	}
	c.Store.Dispatch(session.SetTab{Tab: session.TabKeypad})
	if err := c.addLine(line); err != nil {
		return err
	}
	c.printf("added %s %s\n", label, receipt.FormatCents(cents))
	return nil
}

// customKey returns a keypad key not yet present in the cart.
func (c *Console) customKey() string {
	t := c.now()
	s := c.Store.State()
	for {
		key := model.CustomKey(t)
		if _, taken := s.Line(key); !taken {
			return key
		}
		t = t.Add(time.Millisecond)
	}
}

func (c *Console) cmdCart(_ context.Context, _ []string) error {
	c.renderCart(c.Store.State())
	return nil
}

// lineKey resolves a 1-based line number or a literal cart key.
func (c *Console) lineKey(ref string) (string, error) {
	s := c.Store.State()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(s.Lines) {
			return "", errNoLine
		}
		return s.Lines[n-1].Key, nil
	}
	if _, ok := s.Line(ref); !ok {
		return "", errNoLine
	}
	return ref, nil
}

func (c *Console) cmdSet(_ context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	key, err := c.lineKey(args[0])
	if err != nil {
		return err
	}
	qty, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errUsage
	}
	c.renderCart(c.Store.Dispatch(session.SetItemQty{Key: key, Qty: qty}))
	return nil
}

func (c *Console) cmdRemove(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	key, err := c.lineKey(args[0])
	if err != nil {
		return err
	}
	c.renderCart(c.Store.Dispatch(session.RemoveFromCart{Key: key}))
	return nil
}

func (c *Console) cmdClear(_ context.Context, _ []string) error {
	c.renderCart(c.Store.Dispatch(session.ClearCart{}))
	return nil
}

func (c *Console) cmdCustomer(_ context.Context, args []string) error {
	cust := c.Store.State().Customer
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return errUsage
		}
		switch strings.ToLower(k) {
		case "email":
			cust.Email = v
		case "first":
			cust.FirstName = v
		case "last":
			cust.LastName = v
		default:
			return errUsage
		}
	}
	s := c.Store.Dispatch(session.SetCustomer{Customer: cust})
	c.printf("customer: %s %s <%s>\n", s.Customer.FirstName, s.Customer.LastName, s.Customer.Email)
	return nil
}

func (c *Console) cmdCharge(ctx context.Context, _ []string) error {
	err := c.Flow.Charge(ctx)
	s := c.Store.State()
	if err != nil {
		if s.Error != "" {
			c.printf("%s\n", s.Error)
		}
		return err
	}
	c.renderCheckout(s)
	return nil
}

// cmdCard accepts the number in groups: card 4242 4242 4242 4242 12/30 123.
func (c *Console) cmdCard(_ context.Context, args []string) error {
	if len(args) < 3 {
		return errUsage
	}
	n := len(args)
	number := strings.Join(args[:n-2], "")
	month, year, err := parseExpiry(args[n-2])
	if err != nil {
		return err
	}
	c.Card.SetCard(posapi.Card{Number: number, ExpMonth: month, ExpYear: year, CVC: args[n-1]})
	c.printf("card ending %s ready\n", last4(number))
	return nil
}

func (c *Console) cmdPay(ctx context.Context, _ []string) error {
	err := c.Flow.Confirm(ctx, c.Card)
	s := c.Store.State()
	if err != nil {
		if s.PaymentError != "" {
			c.printf("%s\n", s.PaymentError)
		}
		return err
	}
	return c.printReceipt(s)
}

func (c *Console) cmdBack(_ context.Context, _ []string) error {
	if err := c.Flow.Back(); err != nil {
		return err
	}
	c.renderCart(c.Store.State())
	return nil
}

func (c *Console) cmdReceipt(_ context.Context, _ []string) error {
	return c.printReceipt(c.Store.State())
}

func (c *Console) cmdArchive(ctx context.Context, _ []string) error {
	if c.Archiver == nil {
		return errors.New("receipt archiving is not configured")
	}
	r, err := receipt.FromState(c.Store.State(), c.now())
	if err != nil {
		return err
	}
	where, err := c.Archiver.Archive(ctx, r)
	if err != nil {
		return err
	}
	c.printf("receipt archived to %s\n", where)
	return nil
}

func (c *Console) cmdNew(_ context.Context, _ []string) error {
	if err := c.Flow.NewSale(); err != nil {
		return err
	}
	c.filter = c.filter.Clear()
	c.picker = nil
	c.printf("new sale\n")
	return nil
}

func (c *Console) cmdReader(ctx context.Context, args []string) error {
	c.Store.Dispatch(session.SetTab{Tab: session.TabReader})
	if len(args) == 0 {
		c.renderReader()
		return nil
	}
	var err error
	switch r := c.Reader.(type) {
	case *reader.RealSession:
		err = c.realReader(ctx, r, args)
	case *reader.ManualSession:
		err = c.manualReader(r, args)
	default:
		err = fmt.Errorf("reader %T not supported", c.Reader)
	}
	c.renderReader()
	return err
}

func (c *Console) realReader(ctx context.Context, r *reader.RealSession, args []string) error {
	switch args[0] {
	case "discover":
		found, err := r.Discover(ctx)
		for _, info := range found {
			c.printf("  %s  %s\n", info.Serial, info.Label)
		}
		return err
	case "connect":
		if len(args) != 2 {
			return errUsage
		}
		return r.Connect(ctx, args[1])
	case "disconnect":
		return r.Disconnect(ctx)
	}
	return errUsage
}

func (c *Console) manualReader(r *reader.ManualSession, args []string) error {
	switch args[0] {
	case "confirm":
		r.ConfirmConnected()
		return nil
	case "disconnect":
		r.MarkDisconnected()
		return nil
	}
	return errUsage
}
