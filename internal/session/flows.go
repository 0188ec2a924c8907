package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"catalog_bot/internal/gating"
	"catalog_bot/internal/model"
	"catalog_bot/internal/storage"
)

// Flow names.
const (
	FlowAddItem        = "add_item"
	FlowAddPart        = "add_part"
	FlowAddChannel     = "add_channel"
	FlowPromoteAdmin   = "promote_admin"
	FlowDemoteAdmin    = "demote_admin"
	FlowDeleteItem     = "delete_item"
	FlowPurgeItem      = "purge_item"
	FlowBlockUser      = "block_user"
	FlowUnblockUser    = "unblock_user"
	FlowDeleteChannel  = "delete_channel"
	FlowAddCategory    = "add_category"
	FlowRemoveCategory = "remove_category"
	FlowSearch         = "search"
	FlowUserSearch     = "user_search"
	FlowBroadcast      = "broadcast"
	FlowSetWelcome     = "set_welcome"
)

// Choice values shared with the keyboards.
const (
	ChoiceSkip = "-"
	ChoiceSend = "send"
)

const (
	maxTitleLen = 256
	// pickShown is how many candidates the disambiguation prompt lists.
	pickShown = 5
	// pickSearch bounds the candidate set a follow-up id is checked against.
	pickSearch = 50
)

// Store is the part of the storage layer the flows read and write.
type Store interface {
	ItemExists(ctx context.Context, code string) (bool, error)
	GetItem(ctx context.Context, code string) (*model.Item, error)
	CreateItem(ctx context.Context, item model.NewItem) (*model.Item, error)
	DeleteItem(ctx context.Context, code string) error
	PurgeItem(ctx context.Context, code string) error
	ListParts(ctx context.Context, code string) ([]model.ItemPart, error)
	AddItemPart(ctx context.Context, code string, partNumber int, title, payloadRef string, kind model.PayloadKind) (*model.ItemPart, error)
	ListCategories(ctx context.Context) ([]string, error)
	AddCategory(ctx context.Context, name string) (bool, error)
	RemoveCategory(ctx context.Context, name string) error
	AddChannel(ctx context.Context, ch *model.Channel) error
	DeleteChannel(ctx context.Context, id int64) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error)
	SetAdmin(ctx context.Context, id int64, admin bool) error
	SetBlocked(ctx context.Context, id int64, blocked bool) error
	SetSetting(ctx context.Context, key, value string) error
}

// Flows builds the conversational forms on top of a Store.
type Flows struct {
	store Store
}

// NewFlows creates a Flows.
func NewFlows(store Store) *Flows {
	return &Flows{store: store}
}

// AddItem collects code, title, description, category and payload, then
// creates the item.
func (f *Flows) AddItem(adminID int64) *Flow {
	return &Flow{
		Name: FlowAddItem,
		Steps: []Step{
			{
				Field:  "code",
				Prompt: Static("Send the code for the new item (for example A1B2)."),
				Accept: f.acceptNewCode,
			},
			{
				Field:  "title",
				Prompt: Static("Send the title."),
				Accept: acceptText("title", maxTitleLen),
			},
			{
				Field:  "description",
				Prompt: Static("Send a description, or press Skip.", Choice{Label: "Skip", Value: ChoiceSkip}),
				Accept: acceptOptional("description"),
			},
			{
				Field:  "category",
				Prompt: f.categoryPrompt,
				Accept: f.acceptCategory,
			},
			{
				Field:  "payload",
				Prompt: Static("Send the video, photo or document."),
				Accept: acceptMedia("payload"),
			},
		},
		Commit: func(ctx context.Context, d Draft) (string, error) {
			m := d.Media("payload")
			item, err := f.store.CreateItem(ctx, model.NewItem{
				Code:         d.String("code"),
				Title:        d.String("title"),
				Description:  d.String("description"),
				Category:     d.String("category"),
				PayloadRef:   m.Ref,
				ThumbnailRef: m.ThumbRef,
				PayloadKind:  m.Kind,
				AddedBy:      adminID,
			})
			switch {
			case errors.Is(err, storage.ErrDuplicateKey):
				return "", &ValidationError{Field: "code", Message: fmt.Sprintf("Code %s was taken in the meantime, send another one.", d.String("code"))}
			case errors.Is(err, storage.ErrInvalidArgument):
				return "", &ValidationError{Message: err.Error()}
			case err != nil:
				return "", err
			}

			msg := fmt.Sprintf("Item %s added.", item.Code)
			if d.Bool("new_category") {
				msg += fmt.Sprintf(" New category %q registered.", item.Category)
			}
			return msg, nil
		},
	}
}

func (f *Flows) acceptNewCode(ctx context.Context, d Draft, in Input) error {
	code := model.NormalizeCode(in.Text)
	switch {
	case code == "":
		return Invalid("The code cannot be empty.")
	case utf8.RuneCountInString(code) > model.MaxCodeLen:
		return Invalid("The code is longer than %d characters.", model.MaxCodeLen)
	case strings.ContainsAny(code, " \t\n"):
		return Invalid("The code must not contain spaces.")
	case !model.LinkableCode(code):
		return Invalid("Use only Latin letters, digits, \"_\" and \"-\" in the code.")
	}

	exists, err := f.store.ItemExists(ctx, code)
	if err != nil {
		return err
	}
	if exists {
		return Invalid("Code %s is already taken, send another one.", code)
	}
	d["code"] = code
	return nil
}

func (f *Flows) categoryPrompt(ctx context.Context, _ Draft) (Prompt, error) {
	names, err := f.store.ListCategories(ctx)
	if err != nil {
		return Prompt{}, err
	}
	p := Prompt{Text: "Pick a category or type a new one."}
	for _, n := range names {
		p.Choices = append(p.Choices, Choice{Label: n, Value: n})
	}
	return p, nil
}

// acceptCategory maps the answer onto a known category ignoring case. An
// unknown name is kept as typed and registered when the item is created.
func (f *Flows) acceptCategory(ctx context.Context, d Draft, in Input) error {
	name := strings.TrimSpace(in.Value())
	if name == "" {
		return Invalid("The category cannot be empty.")
	}
	names, err := f.store.ListCategories(ctx)
	if err != nil {
		return err
	}
	d["category"] = name
	d["new_category"] = true
	for _, n := range names {
		if model.SameCategory(n, name) {
			d["category"] = n
			d["new_category"] = false
			break
		}
	}
	return nil
}

// AddPart attaches a numbered part to an existing item.
func (f *Flows) AddPart() *Flow {
	return &Flow{
		Name: FlowAddPart,
		Steps: []Step{
			{
				Field:  "code",
				Prompt: Static("Send the code of the item to add a part to."),
				Accept: f.acceptPartCode,
			},
			{
				Field: "part_number",
				Prompt: func(_ context.Context, d Draft) (Prompt, error) {
					next := strconv.Itoa(d.Int("next_part"))
					return Prompt{
						Text:    "Send the part number.",
						Choices: []Choice{{Label: next, Value: next}},
					}, nil
				},
				Accept: func(_ context.Context, d Draft, in Input) error {
					n, err := strconv.Atoi(strings.TrimSpace(in.Value()))
					if err != nil || n < 1 {
						return Invalid("The part number must be a positive whole number.")
					}
					d["part_number"] = n
					return nil
				},
			},
			{
				Field:  "title",
				Prompt: Static("Send the part title, or press Skip.", Choice{Label: "Skip", Value: ChoiceSkip}),
				Accept: acceptOptional("title"),
			},
			{
				Field:  "payload",
				Prompt: Static("Send the video, photo or document for this part."),
				Accept: acceptMedia("payload"),
			},
		},
		Commit: func(ctx context.Context, d Draft) (string, error) {
			n := d.Int("part_number")
			title := d.String("title")
			if title == "" {
				title = fmt.Sprintf("Part %d", n)
			}
			m := d.Media("payload")
			part, err := f.store.AddItemPart(ctx, d.String("code"), n, title, m.Ref, m.Kind)
			switch {
			case errors.Is(err, storage.ErrDuplicateKey):
				return "", &ValidationError{Field: "part_number", Message: fmt.Sprintf("Part %d already exists, send another number.", n)}
			case errors.Is(err, storage.ErrNotFound):
				return "", &ValidationError{Field: "code", Message: "The item is no longer available, send another code."}
			case err != nil:
				return "", err
			}
			return fmt.Sprintf("Part %d added to %s.", part.PartNumber, part.ItemCode), nil
		},
	}
}

func (f *Flows) acceptPartCode(ctx context.Context, d Draft, in Input) error {
	code := model.NormalizeCode(in.Text)
	if code == "" {
		return Invalid("The code cannot be empty.")
	}
	item, err := f.store.GetItem(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return Invalid("No item with code %s.", code)
	}
	if err != nil {
		return err
	}
	parts, err := f.store.ListParts(ctx, item.Code)
	if err != nil {
		return err
	}
	next := 1
	if len(parts) > 0 {
		next = parts[len(parts)-1].PartNumber + 1
	}
	// A part number picked for another item no longer applies.
	delete(d, "part_number")
	d["code"] = item.Code
	d["next_part"] = next
	return nil
}

// AddChannel collects name, link and kind, then adds a mandatory channel.
func (f *Flows) AddChannel(adminID int64) *Flow {
	kinds := make([]Choice, 0, len(model.ChannelKinds))
	for _, k := range model.ChannelKinds {
		kinds = append(kinds, Choice{Label: kindLabel(k), Value: string(k)})
	}

	return &Flow{
		Name: FlowAddChannel,
		Steps: []Step{
			{
				Field:  "name",
				Prompt: Static("Send the channel name."),
				Accept: acceptText("name", 128),
			},
			{
				Field:  "url",
				Prompt: Static("Send the channel link or @handle."),
				Accept: func(_ context.Context, d Draft, in Input) error {
					url := gating.CanonicalURL(in.Text)
					if url == "" || in.Media != nil {
						return Invalid("Send the link as text.")
					}
					d["url"] = url
					return nil
				},
			},
			{
				Field:  "kind",
				Prompt: Static("Pick the channel type.", kinds...),
				Accept: func(_ context.Context, d Draft, in Input) error {
					k := model.ChannelKind(in.Choice)
					if in.Choice == "" || !k.Valid() {
						return Invalid("Pick the channel type with the buttons.")
					}
					d["kind"] = k
					return nil
				},
			},
		},
		Commit: func(ctx context.Context, d Draft) (string, error) {
			kind, _ := d["kind"].(model.ChannelKind)
			ch := &model.Channel{
				Name:        d.String("name"),
				URL:         d.String("url"),
				Kind:        kind,
				IsMandatory: true,
				IsActive:    true,
				AddedBy:     adminID,
			}
			if err := f.store.AddChannel(ctx, ch); err != nil {
				if errors.Is(err, storage.ErrInvalidArgument) {
					return "", &ValidationError{Field: "name", Message: err.Error()}
				}
				return "", err
			}
			return fmt.Sprintf("Channel %q (%s) added as #%d.", ch.Name, ch.URL, ch.ID), nil
		},
	}
}

func kindLabel(k model.ChannelKind) string {
	switch k {
	case model.ChannelTelegram:
		return "Telegram"
	case model.ChannelInstagram:
		return "Instagram"
	case model.ChannelYouTube:
		return "YouTube"
	case model.ChannelWebsite:
		return "Website"
	}
	return string(k)
}

// PromoteAdmin resolves a user from an id, handle or name fragment and
// grants admin rights. When several users match, the operator must answer
// with the id of one of them.
func (f *Flows) PromoteAdmin() *Flow {
	return &Flow{
		Name: FlowPromoteAdmin,
		Steps: []Step{
			{
				Field:  "query",
				Prompt: Static("Send the user's numeric id, @handle or part of their name."),
				Accept: f.acceptUserQuery,
			},
			{
				Field:  "target",
				Skip:   func(d Draft) bool { return d.Has("target") },
				Prompt: pickPrompt,
				Accept: func(_ context.Context, d Draft, in Input) error {
					id, err := ParseID(in.Value())
					if err != nil {
						return err
					}
					for _, u := range candidates(d) {
						if u.ID == id {
							d["target"] = &u
							return nil
						}
					}
					return Invalid("%d is not one of the listed users.", id)
				},
			},
		},
		Commit: func(ctx context.Context, d Draft) (string, error) {
			u := target(d)
			err := f.store.SetAdmin(ctx, u.ID, true)
			if errors.Is(err, storage.ErrNotFound) {
				return "", &ValidationError{Field: "query", Message: "That user no longer exists."}
			}
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is now an admin.", userLabel(*u)), nil
		},
	}
}

func (f *Flows) acceptUserQuery(ctx context.Context, d Draft, in Input) error {
	delete(d, "target")
	delete(d, "candidates")

	q := strings.TrimSpace(in.Text)
	if q == "" {
		return Invalid("Send an id, a handle or a name.")
	}

	if id, err := strconv.ParseInt(q, 10, 64); err == nil {
		u, err := f.store.GetUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return Invalid("No user with id %d.", id)
		}
		if err != nil {
			return err
		}
		d["target"] = u
		return nil
	}

	users, err := f.store.SearchUsers(ctx, q, pickSearch)
	if err != nil {
		return err
	}
	switch len(users) {
	case 0:
		return Invalid("No users match %q.", q)
	case 1:
		d["target"] = &users[0]
	default:
		d["candidates"] = users
	}
	return nil
}

func pickPrompt(_ context.Context, d Draft) (Prompt, error) {
	users := candidates(d)
	var b strings.Builder
	fmt.Fprintf(&b, "%d users match. Send the id of the one to promote:\n", len(users))
	p := Prompt{}
	for i, u := range users {
		if i == pickShown {
			fmt.Fprintf(&b, "...and %d more", len(users)-pickShown)
			break
		}
		fmt.Fprintf(&b, "%d: %s\n", u.ID, userLabel(u))
		id := strconv.FormatInt(u.ID, 10)
		p.Choices = append(p.Choices, Choice{Label: id, Value: id})
	}
	p.Text = strings.TrimRight(b.String(), "\n")
	return p, nil
}

func candidates(d Draft) []model.User {
	u, _ := d["candidates"].([]model.User)
	return u
}

func target(d Draft) *model.User {
	u, _ := d["target"].(*model.User)
	return u
}

func userLabel(u model.User) string {
	name := u.DisplayName
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	if u.Handle != "" {
		return fmt.Sprintf("%s (@%s)", name, u.Handle)
	}
	return name
}

// DemoteAdmin revokes admin rights by user id.
func (f *Flows) DemoteAdmin() *Flow {
	return single(FlowDemoteAdmin, "user_id", "Send the id of the admin to demote.", acceptID("user_id"),
		func(ctx context.Context, d Draft) (string, error) {
			id := d.Int64("user_id")
			if err := f.store.SetAdmin(ctx, id, false); err != nil {
				return "", notFoundAs(err, "user_id", "No user with id %d.", id)
			}
			return fmt.Sprintf("User %d is no longer an admin.", id), nil
		})
}

// DeleteItem hides an item by code.
func (f *Flows) DeleteItem() *Flow {
	return single(FlowDeleteItem, "code", "Send the code of the item to delete.", acceptCode("code"),
		func(ctx context.Context, d Draft) (string, error) {
			code := d.String("code")
			if err := f.store.DeleteItem(ctx, code); err != nil {
				return "", notFoundAs(err, "code", "No active item with code %s.", code)
			}
			return fmt.Sprintf("Item %s deleted.", code), nil
		})
}

// PurgeItem removes an item and everything attached to it.
func (f *Flows) PurgeItem() *Flow {
	return single(FlowPurgeItem, "code", "Send the code of the item to purge permanently.", acceptCode("code"),
		func(ctx context.Context, d Draft) (string, error) {
			code := d.String("code")
			if err := f.store.PurgeItem(ctx, code); err != nil {
				return "", notFoundAs(err, "code", "No item with code %s.", code)
			}
			return fmt.Sprintf("Item %s purged with its parts, favorites and ratings.", code), nil
		})
}

// SetBlocked blocks or unblocks a user by id. The id is left in the draft
// under "user_id" so the caller can notify the user.
func (f *Flows) SetBlocked(blocked bool) *Flow {
	name, verb := FlowUnblockUser, "unblock"
	if blocked {
		name, verb = FlowBlockUser, "block"
	}
	return single(name, "user_id", fmt.Sprintf("Send the id of the user to %s.", verb), acceptID("user_id"),
		func(ctx context.Context, d Draft) (string, error) {
			id := d.Int64("user_id")
			if err := f.store.SetBlocked(ctx, id, blocked); err != nil {
				return "", notFoundAs(err, "user_id", "No user with id %d.", id)
			}
			return fmt.Sprintf("User %d %sed.", id, verb), nil
		})
}

// DeleteChannel removes a channel by id.
func (f *Flows) DeleteChannel() *Flow {
	return single(FlowDeleteChannel, "channel_id", "Send the id of the channel to delete.", acceptID("channel_id"),
		func(ctx context.Context, d Draft) (string, error) {
			id := d.Int64("channel_id")
			if err := f.store.DeleteChannel(ctx, id); err != nil {
				return "", notFoundAs(err, "channel_id", "No channel with id %d.", id)
			}
			return fmt.Sprintf("Channel #%d deleted.", id), nil
		})
}

// AddCategory appends a category to the taxonomy.
func (f *Flows) AddCategory() *Flow {
	return single(FlowAddCategory, "name", "Send the new category name.", acceptText("name", 128),
		func(ctx context.Context, d Draft) (string, error) {
			name := d.String("name")
			added, err := f.store.AddCategory(ctx, name)
			if err != nil {
				return "", err
			}
			if !added {
				return fmt.Sprintf("Category %q already exists.", name), nil
			}
			return fmt.Sprintf("Category %q added.", name), nil
		})
}

// RemoveCategory drops a category from the taxonomy. Items keep their label.
func (f *Flows) RemoveCategory() *Flow {
	return &Flow{
		Name: FlowRemoveCategory,
		Steps: []Step{{
			Field: "name",
			Prompt: func(ctx context.Context, d Draft) (Prompt, error) {
				p, err := f.categoryPrompt(ctx, d)
				p.Text = "Pick the category to remove."
				return p, err
			},
			Accept: acceptText("name", 128),
		}},
		Commit: func(ctx context.Context, d Draft) (string, error) {
			name := d.String("name")
			if err := f.store.RemoveCategory(ctx, name); err != nil {
				return "", notFoundAs(err, "name", "No category named %q.", name)
			}
			return fmt.Sprintf("Category %q removed.", name), nil
		},
	}
}

// SetWelcome replaces the greeting shown by /start.
func (f *Flows) SetWelcome() *Flow {
	return single(FlowSetWelcome, "text", "Send the new welcome message.", acceptText("text", 4096),
		func(ctx context.Context, d Draft) (string, error) {
			if err := f.store.SetSetting(ctx, storage.SettingWelcomeMessage, d.String("text")); err != nil {
				return "", err
			}
			return "Welcome message updated.", nil
		})
}

// Search asks for a query; the caller runs the search with the "query" field.
func Search() *Flow {
	return single(FlowSearch, "query", "Send a title or code to search for.", acceptText("query", 128), nil)
}

// UserSearch asks for a user query; the caller runs it with the "query" field.
func UserSearch() *Flow {
	return single(FlowUserSearch, "query", "Send an id, @handle or part of a name.", acceptText("query", 128), nil)
}

// Broadcast collects a message and a confirmation; the caller sends "text".
func Broadcast() *Flow {
	return &Flow{
		Name: FlowBroadcast,
		Steps: []Step{
			{
				Field:  "text",
				Prompt: Static("Send the message to broadcast to every user."),
				Accept: acceptText("text", 4096),
			},
			{
				Field: "confirm",
				Prompt: func(_ context.Context, d Draft) (Prompt, error) {
					return Prompt{
						Text:    "Send this to every user?\n\n" + d.String("text"),
						Choices: []Choice{{Label: "Send", Value: ChoiceSend}},
					}, nil
				},
				Accept: func(_ context.Context, _ Draft, in Input) error {
					if in.Choice != ChoiceSend {
						return Invalid("Press Send to start, or Cancel to abort.")
					}
					return nil
				},
			},
		},
	}
}

func single(name, field, prompt string, accept func(context.Context, Draft, Input) error,
	commit func(context.Context, Draft) (string, error)) *Flow {
	return &Flow{
		Name:   name,
		Steps:  []Step{{Field: field, Prompt: Static(prompt), Accept: accept}},
		Commit: commit,
	}
}

func acceptText(field string, limit int) func(context.Context, Draft, Input) error {
	return func(_ context.Context, d Draft, in Input) error {
		v := strings.TrimSpace(in.Value())
		if v == "" || in.Media != nil {
			return Invalid("Please send text.")
		}
		if utf8.RuneCountInString(v) > limit {
			return Invalid("That is longer than %d characters.", limit)
		}
		d[field] = v
		return nil
	}
}

func acceptOptional(field string) func(context.Context, Draft, Input) error {
	return func(_ context.Context, d Draft, in Input) error {
		if in.Media != nil {
			return Invalid("Please send text.")
		}
		v := strings.TrimSpace(in.Value())
		if v == ChoiceSkip {
			v = ""
		}
		d[field] = v
		return nil
	}
}

func acceptMedia(field string) func(context.Context, Draft, Input) error {
	return func(_ context.Context, d Draft, in Input) error {
		if in.Media == nil || in.Media.Ref == "" || !in.Media.Kind.Valid() {
			return Invalid("Send a video, photo or document.")
		}
		d[field] = in.Media
		return nil
	}
}

func acceptID(field string) func(context.Context, Draft, Input) error {
	return func(_ context.Context, d Draft, in Input) error {
		id, err := ParseID(in.Value())
		if err != nil {
			return err
		}
		d[field] = id
		return nil
	}
}

func acceptCode(field string) func(context.Context, Draft, Input) error {
	return func(_ context.Context, d Draft, in Input) error {
		code := model.NormalizeCode(in.Value())
		if code == "" {
			return Invalid("The code cannot be empty.")
		}
		d[field] = code
		return nil
	}
}

// notFoundAs turns storage.ErrNotFound into a ValidationError on field.
func notFoundAs(err error, field, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
	}
	return err
}
