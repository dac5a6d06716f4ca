package sqlinline

const QInsertGeneration = `--sql c6f96c31-5d92-48db-8588-65f2751b839e
insert into generations (owner_id, subject, input_image, style_image, style_name, status)
values ($1::text, $2::text, $3::text, $4::text, $5::text, 'created')
returning id::text, owner_id, subject, input_image, style_image, style_name, poll_handle,
          coalesce(output_image, ''), status, error_message, created_at, updated_at;
`

const QSelectGeneration = `--sql c8379f40-0046-49d1-88ef-bcb93f59ada0
select id::text, owner_id, subject, input_image, style_image, style_name, poll_handle,
       coalesce(output_image, ''), status, error_message, created_at, updated_at
from generations
where id = $1::uuid;
`

const QSelectActiveGeneration = `--sql 74e1a852-2c1d-479b-bee0-955cfbc17bc0
select id::text, owner_id, subject, input_image, style_image, style_name, poll_handle,
       coalesce(output_image, ''), status, error_message, created_at, updated_at
from generations
where owner_id = $1::text
  and status in ('created', 'dispatched')
order by created_at desc
limit 1;
`

// QUpdateGeneration writes the full mutable state of a row, guarded by the
// status the caller read (compare-and-swap).
const QUpdateGeneration = `--sql 1cfa5f36-035b-4a61-9e0b-94e730f647bc
update generations
set status        = $2::text,
    poll_handle   = $3::text,
    output_image  = nullif($4::text, ''),
    error_message = $5::text,
    updated_at    = now()
where id = $1::uuid
  and status = $6::text;
`

// QCompleteAndCharge consumes one credit and completes the generation in a
// single statement. Nothing changes unless the row is still dispatched and the
// owner has a positive balance.
const QCompleteAndCharge = `--sql 6d6fb435-8bf2-4063-a945-69ec17dbdd5e
with target as (
    select id
    from generations
    where id = $1::uuid
      and owner_id = $2::text
      and status = 'dispatched'
    for update
),
charged as (
    update user_credits
    set credits = credits - 1,
        updated_at = now()
    where owner_id = $2::text
      and credits > 0
      and exists (select 1 from target)
    returning credits
),
completed as (
    update generations
    set status = 'completed',
        output_image = $3::text,
        error_message = '',
        updated_at = now()
    where id in (select id from target)
      and exists (select 1 from charged)
    returning id
)
select (select count(*) from target),
       (select credits from charged),
       (select count(*) from completed);
`
